package documents

import (
	"context"
	"sync"
	"time"
)

const (
	// ChangeEventWrite marks an add, set or update.
	ChangeEventWrite = "document-write"
	// ChangeEventDelete marks a removal.
	ChangeEventDelete = "document-delete"
)

// Topic scopes change notifications to one collection of one owner.
type Topic struct {
	Collection string
	OwnerID    string
}

func (t Topic) key() string {
	return t.Collection + "/" + t.OwnerID
}

// ChangeMessage notifies subscribers that documents of a topic changed.
type ChangeMessage struct {
	Topic       Topic
	EventType   string
	DocumentIDs []string
	Timestamp   time.Time
}

// Dispatcher fans change messages out to the subscribers of each topic. Each subscriber holds
// at most one pending message: a publish that finds one already waiting merges into it, so a
// slow subscriber sees every change folded into its next message and none is lost.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id     int64
	mu     sync.Mutex
	stream chan ChangeMessage
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
	}
}

// Subscribe registers for messages of topic until ctx is cancelled or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, topic Topic) (<-chan ChangeMessage, func()) {
	if topic.Collection == "" || topic.OwnerID == "" {
		ch := make(chan ChangeMessage)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeMessage, 1),
	}
	key := topic.key()
	d.register(key, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(key, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers message to every subscriber of its topic without blocking.
func (d *Dispatcher) Publish(message ChangeMessage) {
	if message.Topic.Collection == "" || message.Topic.OwnerID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Topic.key()]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		sub.offer(message)
	}
}

// offer places message in the pending slot, folding in any message still waiting there.
// Only publishers send on the stream, and they hold sub.mu, so the loop ends once the reader
// or the drain below frees the slot.
func (sub *subscriber) offer(message ChangeMessage) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	for {
		select {
		case sub.stream <- message:
			return
		default:
		}
		select {
		case pending := <-sub.stream:
			message = coalesce(pending, message)
		default:
		}
	}
}

// coalesce merges two messages of one topic. The later event type and timestamp win; document
// ids are unioned in first-seen order.
func coalesce(earlier, later ChangeMessage) ChangeMessage {
	merged := later
	seen := make(map[string]struct{}, len(earlier.DocumentIDs)+len(later.DocumentIDs))
	ids := make([]string, 0, len(earlier.DocumentIDs)+len(later.DocumentIDs))
	for _, group := range [][]string{earlier.DocumentIDs, later.DocumentIDs} {
		for _, id := range group {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	merged.DocumentIDs = ids
	if later.Timestamp.Before(earlier.Timestamp) {
		merged.Timestamp = earlier.Timestamp
	}
	return merged
}

// SubscriberCount reports the number of live subscribers of topic.
func (d *Dispatcher) SubscriberCount(topic Topic) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic.key()])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(key string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*subscriber)
	}
	d.subscribers[key][sub.id] = sub
}

func (d *Dispatcher) unregister(key string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}
