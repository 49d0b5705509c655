package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens the server database holding documents and accounts and applies migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&documents.Document{}, &users.Account{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, serverMigrations(), logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenCache opens the client-side cache database used by the local store.
func OpenCache(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&localstore.Entry{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("cache initialized", zap.String("path", path))
	}

	return db, nil
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
