// Package reconcile merges a live remote subscription with the local cache and with
// transient per-item UI flags.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
)

var (
	errMissingSource = errors.New("reconcile: subscription source is required")
	errMissingKey    = errors.New("reconcile: key function is required")
	errEmptyItemKey  = errors.New("reconcile: item has an empty key")
)

// Source opens a live subscription for one owner. onData receives the full collection on every
// change; onError reports a terminal stream failure. The returned function tears the
// subscription down.
type Source[T any] interface {
	Subscribe(ownerID string, onData func([]T), onError func(error)) (func(), error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc[T any] func(ownerID string, onData func([]T), onError func(error)) (func(), error)

// Subscribe calls f.
func (f SourceFunc[T]) Subscribe(ownerID string, onData func([]T), onError func(error)) (func(), error) {
	return f(ownerID, onData, onError)
}

// Cache is the subset of the local store used by the reconciler.
type Cache interface {
	SetCache(key string, value any) error
	GetCache(key string, target any) bool
}

// State is the consumer-facing view of one collection.
type State[T any] struct {
	Data      []T
	IsLoading bool
	Editing   map[string]bool
}

// IsEditing reports whether id carries the transient editing flag.
func (s State[T]) IsEditing(id string) bool {
	return s.Editing[id]
}

func (s State[T]) clone() State[T] {
	data := make([]T, len(s.Data))
	copy(data, s.Data)
	editing := make(map[string]bool, len(s.Editing))
	for id, flag := range s.Editing {
		editing[id] = flag
	}
	return State[T]{Data: data, IsLoading: s.IsLoading, Editing: editing}
}

// Config describes one reconciler instance.
type Config[T any] struct {
	// Entity labels logs and metrics, e.g. "courses".
	Entity string
	Source Source[T]
	Cache  Cache
	// CacheKey maps an owner id to its cache key. Caching is disabled when nil.
	CacheKey func(ownerID string) string
	Key      func(T) string
	// NestedKeys lists ids of sub-items (e.g. holes) that may also carry transient flags.
	NestedKeys func(T) []string
	// Validate is applied to cached items; any failure turns the cache entry into a miss.
	Validate func(T) error
	// Equal overrides the default structural comparison.
	Equal             func(current, incoming []T) bool
	PreserveTransient bool
	Listener          func(State[T])
	Logger            *zap.Logger
	Metrics           *metrics.Recorder
}

// Reconciler owns at most one live subscription at a time.
//
// Listeners are called synchronously in delivery order and must not call SetOwner or Close
// from the same goroutine.
type Reconciler[T any] struct {
	entity            string
	source            Source[T]
	cache             Cache
	cacheKey          func(string) string
	key               func(T) string
	nestedKeys        func(T) []string
	validate          func(T) error
	equal             func([]T, []T) bool
	preserveTransient bool
	logger            *zap.Logger
	metrics           *metrics.Recorder

	lifecycleMu sync.Mutex
	deliverMu   sync.Mutex

	mu          sync.Mutex
	state       State[T]
	ownerID     string
	generation  uint64
	unsubscribe func()
	closed      bool
	listener    func(State[T])
}

// New constructs a Reconciler in the uninitialized state.
func New[T any](cfg Config[T]) (*Reconciler[T], error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Key == nil {
		return nil, errMissingKey
	}
	equal := cfg.Equal
	if equal == nil {
		equal = structurallyEqual[T]
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	entity := strings.TrimSpace(cfg.Entity)
	if entity == "" {
		entity = "collection"
	}
	return &Reconciler[T]{
		entity:            entity,
		source:            cfg.Source,
		cache:             cfg.Cache,
		cacheKey:          cfg.CacheKey,
		key:               cfg.Key,
		nestedKeys:        cfg.NestedKeys,
		validate:          cfg.Validate,
		equal:             equal,
		preserveTransient: cfg.PreserveTransient,
		logger:            logger.With(zap.String("entity", entity)),
		metrics:           cfg.Metrics,
		state:             State[T]{Data: []T{}, Editing: map[string]bool{}},
		listener:          cfg.Listener,
	}, nil
}

// OnChange replaces the listener.
func (r *Reconciler[T]) OnChange(listener func(State[T])) {
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()
}

// State returns a copy of the current state.
func (r *Reconciler[T]) State() State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// OwnerID returns the owner the reconciler is currently bound to.
func (r *Reconciler[T]) OwnerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerID
}

// SetOwner tears down the current subscription, seeds state for ownerID from the cache and
// opens a new subscription. An empty ownerID yields an empty, settled state and no subscription.
func (r *Reconciler[T]) SetOwner(ownerID string) {
	ownerID = strings.TrimSpace(ownerID)

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.generation++
	generation := r.generation
	previous := r.unsubscribe
	r.unsubscribe = nil
	r.ownerID = ownerID
	r.mu.Unlock()

	if previous != nil {
		previous()
		r.metrics.SubscriptionClosed(r.entity)
	}

	r.deliverMu.Lock()
	seeded := r.seed(ownerID)
	r.mu.Lock()
	r.state = seeded
	listener := r.listener
	snapshot := r.state.clone()
	r.mu.Unlock()
	if listener != nil {
		listener(snapshot)
	}
	r.deliverMu.Unlock()

	if ownerID == "" {
		return
	}

	unsubscribe, err := r.source.Subscribe(
		ownerID,
		func(items []T) { r.handleData(generation, items) },
		func(streamErr error) { r.handleError(generation, streamErr) },
	)
	if err != nil {
		r.handleError(generation, fmt.Errorf("reconcile: subscribe: %w", err))
		return
	}

	r.mu.Lock()
	if generation != r.generation || r.closed {
		r.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
	r.metrics.SubscriptionOpened(r.entity)
}

// Close tears down the subscription. The reconciler ignores every later callback.
func (r *Reconciler[T]) Close() {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.generation++
	previous := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if previous != nil {
		previous()
		r.metrics.SubscriptionClosed(r.entity)
	}
}

// SetEditing sets or clears the transient editing flag of an item or nested item currently in
// the collection. It reports whether the flag was applied.
func (r *Reconciler[T]) SetEditing(id string, editing bool) bool {
	if !r.preserveTransient {
		return false
	}
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, live := r.liveIDs(r.state.Data)[id]; !live {
		r.mu.Unlock()
		return false
	}
	if r.state.Editing[id] == editing {
		r.mu.Unlock()
		return true
	}
	if editing {
		r.state.Editing[id] = true
	} else {
		delete(r.state.Editing, id)
	}
	listener := r.listener
	snapshot := r.state.clone()
	r.mu.Unlock()

	if listener != nil {
		listener(snapshot)
	}
	return true
}

func (r *Reconciler[T]) handleData(generation uint64, items []T) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	incoming := make([]T, len(items))
	copy(incoming, items)

	r.mu.Lock()
	if generation != r.generation || r.closed {
		r.mu.Unlock()
		return
	}
	changed := !r.equal(r.state.Data, incoming)
	if !changed && !r.state.IsLoading {
		r.mu.Unlock()
		r.metrics.RecordReconcile(r.entity, metrics.ReconcileUnchanged)
		return
	}

	editing := map[string]bool{}
	if r.preserveTransient {
		live := r.liveIDs(incoming)
		for id, flag := range r.state.Editing {
			if _, ok := live[id]; ok && flag {
				editing[id] = true
			}
		}
	}
	r.state = State[T]{Data: incoming, IsLoading: false, Editing: editing}
	ownerID := r.ownerID
	listener := r.listener
	snapshot := r.state.clone()
	r.mu.Unlock()

	r.metrics.RecordReconcile(r.entity, metrics.ReconcileApplied)
	r.persist(ownerID, incoming)
	if listener != nil {
		listener(snapshot)
	}
}

func (r *Reconciler[T]) handleError(generation uint64, streamErr error) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if generation != r.generation || r.closed {
		r.mu.Unlock()
		return
	}
	r.logger.Error("subscription failed",
		zap.String("owner_id", r.ownerID),
		zap.Error(streamErr))
	r.metrics.RecordReconcile(r.entity, metrics.ReconcileFailed)
	if len(r.state.Data) == 0 && !r.state.IsLoading {
		r.mu.Unlock()
		return
	}
	r.state = State[T]{Data: []T{}, IsLoading: false, Editing: map[string]bool{}}
	listener := r.listener
	snapshot := r.state.clone()
	r.mu.Unlock()

	if listener != nil {
		listener(snapshot)
	}
}

func (r *Reconciler[T]) seed(ownerID string) State[T] {
	empty := State[T]{Data: []T{}, Editing: map[string]bool{}}
	if ownerID == "" {
		return empty
	}
	empty.IsLoading = true
	if r.cache == nil || r.cacheKey == nil {
		return empty
	}
	key := r.cacheKey(ownerID)
	var cached []T
	if !r.cache.GetCache(key, &cached) {
		return empty
	}
	if err := r.validateAll(cached); err != nil {
		r.logger.Debug("discarding invalid cache entry", zap.String("key", key), zap.Error(err))
		return empty
	}
	if cached == nil {
		cached = []T{}
	}
	return State[T]{Data: cached, IsLoading: false, Editing: map[string]bool{}}
}

func (r *Reconciler[T]) persist(ownerID string, items []T) {
	if r.cache == nil || r.cacheKey == nil || ownerID == "" {
		return
	}
	key := r.cacheKey(ownerID)
	if err := r.cache.SetCache(key, items); err != nil {
		r.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Reconciler[T]) validateAll(items []T) error {
	for _, item := range items {
		if strings.TrimSpace(r.key(item)) == "" {
			return errEmptyItemKey
		}
		if r.validate == nil {
			continue
		}
		if err := r.validate(item); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler[T]) liveIDs(items []T) map[string]struct{} {
	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		ids[r.key(item)] = struct{}{}
		if r.nestedKeys == nil {
			continue
		}
		for _, nested := range r.nestedKeys(item) {
			ids[nested] = struct{}{}
		}
	}
	return ids
}

func structurallyEqual[T any](current, incoming []T) bool {
	return cmp.Equal(current, incoming, cmpopts.EquateEmpty())
}
