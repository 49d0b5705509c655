package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDefaultProfileRole = "2024-06-01_default_profile_role"
	migrationLowercaseEmails    = "2024-06-15_lowercase_account_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func serverMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationDefaultProfileRole, apply: backfillProfileRole},
		{name: migrationLowercaseEmails, apply: lowercaseAccountEmails},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillProfileRole stores the default role on profiles written before roles existed.
func backfillProfileRole(db *gorm.DB) error {
	return db.Model(&documents.Document{}).
		Where("collection = ?", domain.CollectionProfiles).
		Where("json_extract(payload_json, '$.role') IS NULL OR json_extract(payload_json, '$.role') = ''").
		Update("payload_json", gorm.Expr("json_set(payload_json, '$.role', ?)", string(domain.RolePlayer))).
		Error
}

func lowercaseAccountEmails(db *gorm.DB) error {
	return db.Model(&users.Account{}).
		Where("user_email <> lower(user_email)").
		Update("user_email", gorm.Expr("lower(user_email)")).
		Error
}
