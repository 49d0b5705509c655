package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxCollectionLength = 64

var (
	// ErrNotFound indicates that the addressed document does not exist.
	ErrNotFound = errors.New("documents: not found")
	// ErrInvalidCollection indicates an empty or oversized collection name.
	ErrInvalidCollection = errors.New("documents: invalid collection")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCallback   = errors.New("data callback is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable code of the form operation.reason.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "documents.service.new"
	opList       = "documents.list"
	opGet        = "documents.get"
	opAdd        = "documents.add"
	opSet        = "documents.set"
	opUpdate     = "documents.update"
	opDelete     = "documents.delete"
	opSubscribe  = "documents.subscribe"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the document service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Dispatcher *Dispatcher
	Metrics    *metrics.Recorder
}

// Service stores JSON documents per collection and owner and notifies subscribers of changes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	dispatcher *Dispatcher
	metrics    *metrics.Recorder
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		dispatcher: dispatcher,
		metrics:    cfg.Metrics,
	}, nil
}

// Dispatcher exposes the change dispatcher used by the service.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// List returns the documents of a collection owned by ownerID, oldest first.
func (s *Service) List(ctx context.Context, collection, ownerID string) ([]Record, error) {
	scope, err := s.resolveScope(opList, collection, ownerID)
	if err != nil {
		return nil, err
	}
	var rows []Document
	if err := s.db.WithContext(ctx).
		Where("collection = ? AND owner_id = ?", scope.Collection, scope.OwnerID).
		Order("created_at_ms ASC").
		Order("document_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err, scope.fields()...)
		return nil, newServiceError(opList, "query_failed", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// Get returns one document or an error wrapping ErrNotFound.
func (s *Service) Get(ctx context.Context, collection, ownerID, documentID string) (Record, error) {
	scope, err := s.resolveScope(opGet, collection, ownerID)
	if err != nil {
		return Record{}, err
	}
	id, err := domain.NewDocumentID(documentID)
	if err != nil {
		return Record{}, newServiceError(opGet, "invalid_document_id", err)
	}
	var row Document
	err = s.db.WithContext(ctx).
		Where("collection = ? AND owner_id = ? AND document_id = ?", scope.Collection, scope.OwnerID, id.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(opGet, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, append(scope.fields(), zap.String("document_id", id.String()))...)
		return Record{}, newServiceError(opGet, "query_failed", err)
	}
	return row.record(), nil
}

// Add stores payload under a freshly issued identifier and returns that identifier.
func (s *Service) Add(ctx context.Context, collection, ownerID string, payload json.RawMessage) (string, error) {
	scope, err := s.resolveScope(opAdd, collection, ownerID)
	if err != nil {
		return "", err
	}
	normalized, err := normalizePayload(payload)
	if err != nil {
		return "", newServiceError(opAdd, "invalid_payload", err)
	}
	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAdd, "id_generation_failed", err, scope.fields()...)
		return "", newServiceError(opAdd, "id_generation_failed", err)
	}
	nowMillis := s.clock().UTC().UnixMilli()
	row := Document{
		Collection:      scope.Collection,
		OwnerID:         scope.OwnerID,
		DocumentID:      documentID,
		PayloadJSON:     string(normalized),
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opAdd, "insert_failed", err, append(scope.fields(), zap.String("document_id", documentID))...)
		return "", newServiceError(opAdd, "insert_failed", err)
	}
	s.publish(scope, ChangeEventWrite, "add", documentID)
	return documentID, nil
}

// Set creates or replaces the document with the provided identifier.
func (s *Service) Set(ctx context.Context, collection, ownerID, documentID string, payload json.RawMessage) error {
	scope, err := s.resolveScope(opSet, collection, ownerID)
	if err != nil {
		return err
	}
	id, err := domain.NewDocumentID(documentID)
	if err != nil {
		return newServiceError(opSet, "invalid_document_id", err)
	}
	normalized, err := normalizePayload(payload)
	if err != nil {
		return newServiceError(opSet, "invalid_payload", err)
	}
	nowMillis := s.clock().UTC().UnixMilli()
	row := Document{
		Collection:      scope.Collection,
		OwnerID:         scope.OwnerID,
		DocumentID:      id.String(),
		PayloadJSON:     string(normalized),
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "owner_id"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_ms"}),
	}).Create(&row).Error
	if err != nil {
		s.logError(opSet, "upsert_failed", err, append(scope.fields(), zap.String("document_id", id.String()))...)
		return newServiceError(opSet, "upsert_failed", err)
	}
	s.publish(scope, ChangeEventWrite, "set", id.String())
	return nil
}

// Update merges fields into the stored payload. Top-level fields are replaced as a whole.
func (s *Service) Update(ctx context.Context, collection, ownerID, documentID string, fields map[string]any) error {
	scope, err := s.resolveScope(opUpdate, collection, ownerID)
	if err != nil {
		return err
	}
	id, err := domain.NewDocumentID(documentID)
	if err != nil {
		return newServiceError(opUpdate, "invalid_document_id", err)
	}
	encodedFields := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		if name == idField {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return newServiceError(opUpdate, "invalid_payload", fmt.Errorf("%w: field %s: %v", ErrInvalidPayload, name, err))
		}
		encodedFields[name] = encoded
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND owner_id = ? AND document_id = ?", scope.Collection, scope.OwnerID, id.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdate, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opUpdate, "select_failed", err, append(scope.fields(), zap.String("document_id", id.String()))...)
			return newServiceError(opUpdate, "select_failed", err)
		}
		merged, err := decodeObject([]byte(existing.PayloadJSON))
		if err != nil {
			s.logError(opUpdate, "stored_payload_invalid", err, append(scope.fields(), zap.String("document_id", id.String()))...)
			return newServiceError(opUpdate, "stored_payload_invalid", err)
		}
		for name, value := range encodedFields {
			merged[name] = value
		}
		encoded, err := json.Marshal(merged)
		if err != nil {
			return newServiceError(opUpdate, "encode_failed", err)
		}
		if err := tx.Model(&Document{}).
			Where("collection = ? AND owner_id = ? AND document_id = ?", scope.Collection, scope.OwnerID, id.String()).
			Updates(map[string]any{
				"payload_json":  string(encoded),
				"updated_at_ms": s.clock().UTC().UnixMilli(),
			}).Error; err != nil {
			s.logError(opUpdate, "save_failed", err, append(scope.fields(), zap.String("document_id", id.String()))...)
			return newServiceError(opUpdate, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	s.publish(scope, ChangeEventWrite, "update", id.String())
	return nil
}

// Delete removes a document or reports an error wrapping ErrNotFound.
func (s *Service) Delete(ctx context.Context, collection, ownerID, documentID string) error {
	scope, err := s.resolveScope(opDelete, collection, ownerID)
	if err != nil {
		return err
	}
	id, err := domain.NewDocumentID(documentID)
	if err != nil {
		return newServiceError(opDelete, "invalid_document_id", err)
	}
	result := s.db.WithContext(ctx).
		Where("collection = ? AND owner_id = ? AND document_id = ?", scope.Collection, scope.OwnerID, id.String()).
		Delete(&Document{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, append(scope.fields(), zap.String("document_id", id.String()))...)
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrNotFound)
	}
	s.publish(scope, ChangeEventDelete, "delete", id.String())
	return nil
}

// Subscribe delivers the full list of documents immediately and again after every change to
// the collection of ownerID. A failed reload is reported through onError and ends the
// subscription. The returned function stops delivery and may be called from a callback.
func (s *Service) Subscribe(ctx context.Context, collection, ownerID string, onData func([]Record), onError func(error)) (func(), error) {
	scope, err := s.resolveScope(opSubscribe, collection, ownerID)
	if err != nil {
		return nil, err
	}
	if onData == nil {
		return nil, newServiceError(opSubscribe, "missing_callback", errMissingCallback)
	}
	subscriptionCtx, cancel := context.WithCancel(ctx)
	stream, cleanup := s.dispatcher.Subscribe(subscriptionCtx, scope)
	go s.deliver(subscriptionCtx, scope, stream, onData, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			cleanup()
		})
	}, nil
}

func (s *Service) deliver(ctx context.Context, scope Topic, stream <-chan ChangeMessage, onData func([]Record), onError func(error)) {
	load := func() bool {
		records, err := s.List(ctx, scope.Collection, scope.OwnerID)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			s.logError(opSubscribe, "reload_failed", err, scope.fields()...)
			if onError != nil {
				onError(err)
			}
			return false
		}
		onData(records)
		return true
	}

	if !load() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-stream:
			if !ok {
				return
			}
			if !load() {
				return
			}
		}
	}
}

func (s *Service) publish(scope Topic, eventType, operation, documentID string) {
	s.metrics.RecordDocumentWrite(scope.Collection, operation)
	s.dispatcher.Publish(ChangeMessage{
		Topic:       scope,
		EventType:   eventType,
		DocumentIDs: []string{documentID},
		Timestamp:   s.clock().UTC(),
	})
}

func (s *Service) resolveScope(operation, collection, ownerID string) (Topic, error) {
	name := strings.TrimSpace(collection)
	if name == "" || len(name) > maxCollectionLength {
		return Topic{}, newServiceError(operation, "invalid_collection", ErrInvalidCollection)
	}
	owner, err := domain.NewOwnerID(ownerID)
	if err != nil {
		return Topic{}, newServiceError(operation, "invalid_owner_id", err)
	}
	return Topic{Collection: name, OwnerID: owner.String()}, nil
}

func (t Topic) fields() []zap.Field {
	return []zap.Field{
		zap.String("collection", t.Collection),
		zap.String("owner_id", t.OwnerID),
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("documents service error", attrs...)
}
