package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PersistentEventBus delivers like InMemoryEventBus and also writes every
// event to an EventStore in batches. A failed write is logged and the batch
// dropped; delivery to subscribers is unaffected.
type PersistentEventBus struct {
	memory      *InMemoryEventBus
	store       EventStore
	buffer      chan Event
	batchSize   int
	flushPeriod time.Duration
	closeWait   time.Duration
	logger      *slog.Logger
	done        chan struct{}

	mu     sync.RWMutex
	closed bool
}

type persistentConfig struct {
	bufferSize  int
	batchSize   int
	flushPeriod time.Duration
	closeWait   time.Duration
	logger      *slog.Logger
}

type PersistentOption func(*persistentConfig)

func WithBatchSize(size int) PersistentOption {
	return func(c *persistentConfig) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

func WithFlushPeriod(period time.Duration) PersistentOption {
	return func(c *persistentConfig) {
		if period > 0 {
			c.flushPeriod = period
		}
	}
}

// WithCloseWait bounds how long Close waits for the last batch to be written.
func WithCloseWait(d time.Duration) PersistentOption {
	return func(c *persistentConfig) {
		if d > 0 {
			c.closeWait = d
		}
	}
}

func WithPersistentLogger(l *slog.Logger) PersistentOption {
	return func(c *persistentConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewPersistentEventBus(store EventStore, opts ...PersistentOption) *PersistentEventBus {
	cfg := &persistentConfig{
		bufferSize:  256,
		batchSize:   50,
		flushPeriod: 500 * time.Millisecond,
		closeWait:   5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	bus := &PersistentEventBus{
		memory:      NewInMemoryEventBus(WithBufferSize(cfg.bufferSize), WithLogger(cfg.logger)),
		store:       store,
		buffer:      make(chan Event, cfg.bufferSize),
		batchSize:   cfg.batchSize,
		flushPeriod: cfg.flushPeriod,
		closeWait:   cfg.closeWait,
		logger:      cfg.logger,
		done:        make(chan struct{}),
	}
	go bus.persist()
	return bus
}

func (b *PersistentEventBus) Publish(event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	if err := b.memory.Publish(event); err != nil {
		return err
	}
	b.buffer <- event
	return nil
}

func (b *PersistentEventBus) Subscribe(handler EventHandler, filters ...EventFilter) (SubscriptionID, error) {
	return b.memory.Subscribe(handler, filters...)
}

func (b *PersistentEventBus) Unsubscribe(id SubscriptionID) error {
	return b.memory.Unsubscribe(id)
}

func (b *PersistentEventBus) Query(ctx context.Context, filter EventQueryFilter) ([]*StoredEvent, error) {
	return b.store.Query(ctx, filter)
}

// Close flushes buffered events to the store, waiting at most the close
// wait, then drains subscribers.
func (b *PersistentEventBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.buffer)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
	case <-time.After(b.closeWait):
		b.logger.Warn("event store flush did not finish before close", "wait", b.closeWait)
	}

	return b.memory.Close()
}

func (b *PersistentEventBus) persist() {
	defer close(b.done)

	batch := make([]Event, 0, b.batchSize)
	ticker := time.NewTicker(b.flushPeriod)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := b.store.SaveBatch(context.Background(), batch); err != nil {
			b.logger.Error("persist events", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-b.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

var _ EventBus = (*PersistentEventBus)(nil)
