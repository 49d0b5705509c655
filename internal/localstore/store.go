// Package localstore persists JSON values under string keys in a local SQLite file.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSerialization indicates that a value could not be encoded as JSON.
	ErrSerialization = errors.New("localstore: value is not serializable")
	// ErrInvalidKey indicates that a cache key is empty.
	ErrInvalidKey = errors.New("localstore: invalid key")

	errMissingDatabase = errors.New("localstore: database handle is required")
)

// Entry is a single persisted cache value.
type Entry struct {
	Key             string `gorm:"column:cache_key;primaryKey;size:190;not null"`
	ValueJSON       string `gorm:"column:value_json;type:text;not null"`
	WrittenAtMillis int64  `gorm:"column:written_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "cache_entries"
}

type ttlEnvelope struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

// Config describes the dependencies of a Store.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Metrics  *metrics.Recorder
}

// Store is a synchronous key-value cache. Reads never fail loudly: a missing or
// undecodable entry is reported as absent.
type Store struct {
	db      *gorm.DB
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New constructs a Store over an already migrated database.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      cfg.Database,
		clock:   clock,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// SetCache stores value under key without expiry.
func (s *Store) SetCache(key string, value any) error {
	encoded, err := encode(value)
	if err != nil {
		s.metrics.RecordCacheWriteFailure()
		return err
	}
	return s.write(key, encoded)
}

// GetCache decodes the value stored under key into target and reports whether it was found.
// The content of target is unspecified when false is returned.
func (s *Store) GetCache(key string, target any) bool {
	raw, ok := s.read(key)
	if !ok {
		s.metrics.RecordCacheLookup(metrics.CacheMiss)
		return false
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		s.logger.Debug("cache entry undecodable", zap.String("key", key), zap.Error(err))
		s.metrics.RecordCacheLookup(metrics.CacheInvalid)
		return false
	}
	s.metrics.RecordCacheLookup(metrics.CacheHit)
	return true
}

// SetTTLCache stores value under key together with the current write time.
func (s *Store) SetTTLCache(key string, value any) error {
	encoded, err := encode(value)
	if err != nil {
		s.metrics.RecordCacheWriteFailure()
		return err
	}
	envelope, err := json.Marshal(ttlEnvelope{
		Value:     json.RawMessage(encoded),
		Timestamp: s.clock().UnixMilli(),
	})
	if err != nil {
		s.metrics.RecordCacheWriteFailure()
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return s.write(key, string(envelope))
}

// GetTTLCache decodes the value stored under key into target unless it is older than maxAge.
// Expired entries are left in place.
func (s *Store) GetTTLCache(key string, maxAge time.Duration, target any) bool {
	raw, ok := s.read(key)
	if !ok {
		s.metrics.RecordCacheLookup(metrics.CacheMiss)
		return false
	}
	var envelope ttlEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.Timestamp <= 0 || len(envelope.Value) == 0 {
		s.logger.Debug("ttl cache entry malformed", zap.String("key", key))
		s.metrics.RecordCacheLookup(metrics.CacheInvalid)
		return false
	}
	age := s.clock().Sub(time.UnixMilli(envelope.Timestamp))
	if age > maxAge {
		s.metrics.RecordCacheLookup(metrics.CacheExpired)
		return false
	}
	if err := json.Unmarshal(envelope.Value, target); err != nil {
		s.logger.Debug("ttl cache value undecodable", zap.String("key", key), zap.Error(err))
		s.metrics.RecordCacheLookup(metrics.CacheInvalid)
		return false
	}
	s.metrics.RecordCacheLookup(metrics.CacheHit)
	return true
}

// Delete removes the entry stored under key. Removing an absent key is not an error.
func (s *Store) Delete(key string) error {
	normalized, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Where("cache_key = ?", normalized).Delete(&Entry{}).Error
}

// Load returns the plain entry under key decoded as T.
func Load[T any](s *Store, key string) (T, bool) {
	var value T
	if !s.GetCache(key, &value) {
		var zero T
		return zero, false
	}
	return value, true
}

// LoadTTL returns the TTL entry under key decoded as T when it is younger than maxAge.
func LoadTTL[T any](s *Store, key string, maxAge time.Duration) (T, bool) {
	var value T
	if !s.GetTTLCache(key, maxAge, &value) {
		var zero T
		return zero, false
	}
	return value, true
}

func (s *Store) write(key, valueJSON string) error {
	normalized, err := normalizeKey(key)
	if err != nil {
		s.metrics.RecordCacheWriteFailure()
		return err
	}
	entry := Entry{
		Key:             normalized,
		ValueJSON:       valueJSON,
		WrittenAtMillis: s.clock().UnixMilli(),
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error; err != nil {
		s.metrics.RecordCacheWriteFailure()
		return fmt.Errorf("localstore: write %s: %w", normalized, err)
	}
	return nil
}

func (s *Store) read(key string) (string, bool) {
	normalized, err := normalizeKey(key)
	if err != nil {
		return "", false
	}
	var entry Entry
	err = s.db.Where("cache_key = ?", normalized).Take(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("cache read failed", zap.String("key", normalized), zap.Error(err))
		}
		return "", false
	}
	return entry.ValueJSON, true
}

func encode(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(encoded), nil
}

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	return trimmed, nil
}
