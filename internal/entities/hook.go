// Package entities binds the generic reconciler to each disc-golf entity: collection, cache key,
// transient-flag policy and the mutations a consumer may issue.
package entities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/reconcile"
	"go.uber.org/zap"
)

var (
	// ErrNoOwner indicates a mutation on a hook that is not bound to a signed-in user.
	ErrNoOwner = errors.New("entities: hook has no owner")

	errMissingBackend = errors.New("entities: backend is required")
)

// Backend is the remote document store. documents.Service and remote.Client both satisfy it.
type Backend interface {
	Subscribe(ctx context.Context, collection, ownerID string, onData func([]documents.Record), onError func(error)) (func(), error)
	Get(ctx context.Context, collection, ownerID, documentID string) (documents.Record, error)
	Add(ctx context.Context, collection, ownerID string, payload json.RawMessage) (string, error)
	Set(ctx context.Context, collection, ownerID, documentID string, payload json.RawMessage) error
	Update(ctx context.Context, collection, ownerID, documentID string, fields map[string]any) error
	Delete(ctx context.Context, collection, ownerID, documentID string) error
}

// Options carries the collaborators shared by every hook.
type Options struct {
	Backend Backend
	// Cache is optional; hooks run without local persistence when it is nil.
	Cache   reconcile.Cache
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time
}

// Descriptor configures a Hook for one entity type.
type Descriptor[T any] struct {
	Collection       domain.Collection
	CacheKeyTemplate string
	Transient        bool
	Key              func(T) string
	NestedKeys       func(T) []string
	Validate         func(T) error
	// Filter keeps only the items relevant to ownerID, e.g. notes addressed to the user.
	Filter func(ownerID string, item T) bool
}

// Hook is the consumer-facing view of one entity collection for one user at a time.
type Hook[T any] struct {
	descriptor Descriptor[T]
	backend    Backend
	clock      func() time.Time
	logger     *zap.Logger
	reconciler *reconcile.Reconciler[T]
}

func newHook[T any](descriptor Descriptor[T], opts Options) (*Hook[T], error) {
	if opts.Backend == nil {
		return nil, errMissingBackend
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	hook := &Hook[T]{
		descriptor: descriptor,
		backend:    opts.Backend,
		clock:      clock,
		logger:     logger.With(zap.String("collection", descriptor.Collection.Name)),
	}
	var cacheKey func(string) string
	if descriptor.CacheKeyTemplate != "" {
		template := descriptor.CacheKeyTemplate
		cacheKey = func(ownerID string) string {
			return localstore.KeyFor(template, ownerID)
		}
	}
	reconciler, err := reconcile.New(reconcile.Config[T]{
		Entity:            descriptor.Collection.Name,
		Source:            reconcile.SourceFunc[T](hook.subscribe),
		Cache:             opts.Cache,
		CacheKey:          cacheKey,
		Key:               descriptor.Key,
		NestedKeys:        descriptor.NestedKeys,
		Validate:          descriptor.Validate,
		PreserveTransient: descriptor.Transient,
		Logger:            logger,
		Metrics:           opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	hook.reconciler = reconciler
	return hook, nil
}

// Open binds the hook to ownerID; an empty id clears the state and closes the subscription.
func (h *Hook[T]) Open(ownerID string) {
	h.reconciler.SetOwner(ownerID)
}

// Close tears the hook down for good.
func (h *Hook[T]) Close() {
	h.reconciler.Close()
}

// State returns a snapshot of the collection.
func (h *Hook[T]) State() reconcile.State[T] {
	return h.reconciler.State()
}

// OnChange registers the listener that receives every delivered state.
func (h *Hook[T]) OnChange(listener func(reconcile.State[T])) {
	h.reconciler.OnChange(listener)
}

// OwnerID returns the user the hook is bound to.
func (h *Hook[T]) OwnerID() string {
	return h.reconciler.OwnerID()
}

func (h *Hook[T]) subscribe(ownerID string, onData func([]T), onError func(error)) (func(), error) {
	return h.backend.Subscribe(
		context.Background(),
		h.descriptor.Collection.Name,
		h.descriptor.Collection.StoreOwner(ownerID),
		func(records []documents.Record) {
			onData(h.decode(ownerID, records))
		},
		onError,
	)
}

func (h *Hook[T]) decode(ownerID string, records []documents.Record) []T {
	items := make([]T, 0, len(records))
	for _, record := range records {
		item, err := documents.DecodeRecord[T](record)
		if err != nil {
			h.logger.Warn("skipping undecodable document",
				zap.String("document_id", record.ID),
				zap.Error(err))
			continue
		}
		if h.descriptor.Filter != nil && !h.descriptor.Filter(ownerID, item) {
			continue
		}
		items = append(items, item)
	}
	return items
}

// scope resolves the signed-in user and the namespace that stores the collection for them.
func (h *Hook[T]) scope() (string, string, error) {
	userID := strings.TrimSpace(h.reconciler.OwnerID())
	if userID == "" {
		return "", "", ErrNoOwner
	}
	return userID, h.descriptor.Collection.StoreOwner(userID), nil
}

func (h *Hook[T]) add(ctx context.Context, value any) (string, error) {
	_, storeOwner, err := h.scope()
	if err != nil {
		return "", err
	}
	payload, err := documents.EncodePayload(value)
	if err != nil {
		return "", err
	}
	return h.backend.Add(ctx, h.descriptor.Collection.Name, storeOwner, payload)
}

func (h *Hook[T]) set(ctx context.Context, documentID string, value any) error {
	_, storeOwner, err := h.scope()
	if err != nil {
		return err
	}
	payload, err := documents.EncodePayload(value)
	if err != nil {
		return err
	}
	return h.backend.Set(ctx, h.descriptor.Collection.Name, storeOwner, documentID, payload)
}

func (h *Hook[T]) update(ctx context.Context, documentID string, fields map[string]any) error {
	_, storeOwner, err := h.scope()
	if err != nil {
		return err
	}
	return h.backend.Update(ctx, h.descriptor.Collection.Name, storeOwner, documentID, fields)
}

func (h *Hook[T]) remove(ctx context.Context, documentID string) error {
	_, storeOwner, err := h.scope()
	if err != nil {
		return err
	}
	return h.backend.Delete(ctx, h.descriptor.Collection.Name, storeOwner, documentID)
}

func (h *Hook[T]) get(ctx context.Context, documentID string) (T, error) {
	var zero T
	_, storeOwner, err := h.scope()
	if err != nil {
		return zero, err
	}
	return fetch[T](ctx, h.backend, h.descriptor.Collection.Name, storeOwner, documentID)
}

func fetch[V any](ctx context.Context, backend Backend, collection, storeOwner, documentID string) (V, error) {
	var zero V
	record, err := backend.Get(ctx, collection, storeOwner, documentID)
	if err != nil {
		return zero, err
	}
	value, err := documents.DecodeRecord[V](record)
	if err != nil {
		return zero, fmt.Errorf("entities: %s/%s: %w", collection, documentID, err)
	}
	return value, nil
}
