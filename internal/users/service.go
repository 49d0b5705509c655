package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	// ErrInvalidAccount indicates missing or malformed registration input.
	ErrInvalidAccount = errors.New("users: invalid account")
	// ErrEmailTaken indicates that another account already uses the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrAccountNotFound indicates an unknown user id.
	ErrAccountNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	// HashCost overrides the bcrypt cost; zero uses bcrypt.DefaultCost.
	HashCost int
}

// Service registers and authenticates accounts.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	hashCost int
	cache    sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		hashCost: cost,
		cache:    sync.Map{},
	}, nil
}

// Register creates an account and returns it.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("%w: email required", ErrInvalidAccount)
	}
	if len(password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidAccount, minPasswordLength)
	}
	displayName = normalize(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	identifier, err := uuid.NewV7()
	if err != nil {
		return Account{}, err
	}

	account := Account{
		UserID:       identifier.String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		LastSeenAt:   s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Account{}).Where("user_email = ?", email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		return tx.Create(&account).Error
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.Store(account.UserID, account)
	return account, nil
}

// Authenticate checks the password of the account registered under email.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("user_email = ?", normalizeEmail(email)).
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	account.LastSeenAt = s.now().UTC()
	_ = s.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ?", account.UserID).
		Update("last_seen_at", account.LastSeenAt).
		Error
	s.cache.Store(account.UserID, account)
	return account, nil
}

// Lookup returns the account for userID.
func (s *Service) Lookup(ctx context.Context, userID string) (Account, error) {
	userID = normalize(userID)
	if userID == "" {
		return Account{}, ErrAccountNotFound
	}
	if cached, ok := s.cache.Load(userID); ok {
		if account, ok := cached.(Account); ok {
			return account, nil
		}
	}
	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	s.cache.Store(account.UserID, account)
	return account, nil
}
