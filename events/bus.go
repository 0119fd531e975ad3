// Package events delivers committed ledger events to in-process subscribers.
package events

import (
	"sync"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"go.uber.org/zap"
)

// Handler receives a single event.
type Handler func(models.Event)

// Emitter is what the credential engine publishes to.
type Emitter interface {
	Publish(ev models.Event)
}

type subscription struct {
	id      int64
	handler Handler
}

// SimpleBus is a synchronous in-memory pub/sub. Handlers subscribed to a kind
// receive only events of that kind; handlers subscribed with SubscribeAll
// receive every event.
type SimpleBus struct {
	mu       sync.RWMutex
	handlers map[models.EventKind][]subscription
	all      []subscription
	nextID   int64
}

func NewSimpleBus() *SimpleBus {
	return &SimpleBus{handlers: make(map[models.EventKind][]subscription)}
}

// Subscribe registers a handler for one event kind. Returns an unsubscribe function.
func (b *SimpleBus) Subscribe(kind models.EventKind, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[kind] = without(b.handlers[kind], id)
	}
}

// SubscribeAll registers a handler for every event kind.
func (b *SimpleBus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// Publish calls the handlers synchronously, in subscription order.
func (b *SimpleBus) Publish(ev models.Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[ev.Kind]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ev)
	}
}

func without(subs []subscription, id int64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// LogHandler returns a handler that logs every event it receives.
func LogHandler(logger *zap.Logger) Handler {
	return func(ev models.Event) {
		logger.Info("Ledger event",
			zap.String("kind", ev.Kind.String()),
			zap.String("account", ev.Account.Hex()),
			zap.String("type", ev.Type.String()),
			zap.String("actor", ev.Actor.Hex()),
			zap.Int64("timestamp", ev.Timestamp.Unix()),
		)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(models.Event) {}
