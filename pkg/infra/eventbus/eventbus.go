// Package eventbus carries cycle, stage and alert events from the code that
// raises them to subscribers, and optionally into SQLite.
package eventbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("eventbus is closed")

type SubscriptionID string

type EventHandler func(event Event) error

type EventFilter func(event Event) bool

type EventBus interface {
	Publish(event Event) error
	Subscribe(handler EventHandler, filters ...EventFilter) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	Close() error
}

// InMemoryEventBus delivers events asynchronously on a single dispatcher
// goroutine, so every subscriber sees events in publish order. Publish
// blocks only when the queue is full.
type InMemoryEventBus struct {
	queue  chan Event
	logger *slog.Logger
	done   chan struct{}

	// sendMu guards closed and the closing of queue. The dispatcher never
	// takes it, so a Publish blocked on a full queue cannot stall delivery.
	sendMu sync.RWMutex
	closed bool

	mu          sync.RWMutex
	subscribers map[SubscriptionID]*subscription
	order       []SubscriptionID
}

type subscription struct {
	handler EventHandler
	filters []EventFilter
}

func (s *subscription) matches(event Event) bool {
	for _, f := range s.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

type config struct {
	bufferSize int
	logger     *slog.Logger
}

type Option func(*config)

// WithLogger sets where handler errors are reported.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

func NewInMemoryEventBus(opts ...Option) *InMemoryEventBus {
	cfg := &config{
		bufferSize: 256,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	bus := &InMemoryEventBus{
		queue:       make(chan Event, cfg.bufferSize),
		logger:      cfg.logger,
		done:        make(chan struct{}),
		subscribers: make(map[SubscriptionID]*subscription),
	}
	go bus.dispatch()
	return bus
}

func (b *InMemoryEventBus) Publish(event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	b.queue <- event
	return nil
}

func (b *InMemoryEventBus) Subscribe(handler EventHandler, filters ...EventFilter) (SubscriptionID, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	b.sendMu.RLock()
	closed := b.closed
	b.sendMu.RUnlock()
	if closed {
		return "", ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriptionID(uuid.NewString())
	b.subscribers[id] = &subscription{handler: handler, filters: filters}
	b.order = append(b.order, id)
	return id, nil
}

func (b *InMemoryEventBus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[id]; !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subscribers, id)
	for i, sid := range b.order {
		if sid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops accepting events and returns once the queued ones have been
// delivered. It is safe to call more than once.
func (b *InMemoryEventBus) Close() error {
	b.sendMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.sendMu.Unlock()

	<-b.done
	return nil
}

func (b *InMemoryEventBus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		b.deliver(event)
	}
}

func (b *InMemoryEventBus) deliver(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.order))
	ids := make([]SubscriptionID, 0, len(b.order))
	for _, id := range b.order {
		subs = append(subs, b.subscribers[id])
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for i, sub := range subs {
		if !sub.matches(event) {
			continue
		}
		if err := sub.handler(event); err != nil {
			b.logger.Warn("event handler failed",
				"subscription", ids[i], "type", event.Type(), "cycle_id", event.CorrelationID(), "error", err)
		}
	}
}

func FilterByType(eventType string) EventFilter {
	return func(event Event) bool {
		return event.Type() == eventType
	}
}

func FilterByDomain(domain string) EventFilter {
	return func(event Event) bool {
		return event.Domain() == domain
	}
}

// FilterByCorrelationID keeps the events of one cycle.
func FilterByCorrelationID(id string) EventFilter {
	return func(event Event) bool {
		return event.CorrelationID() == id
	}
}

var _ EventBus = (*InMemoryEventBus)(nil)
