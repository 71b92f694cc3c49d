package batch

import (
	"context"
	"sync"
	"time"
)

// ProcessFunc handles one batch. Items are handed over in insertion order.
type ProcessFunc[T any] func(ctx context.Context, items []T) error

type Config struct {
	Size       int           // flush once this many items are pending
	Interval   time.Duration // flush at least this often
	MaxPending int           // items beyond this are dropped, 0 means 4*Size
}

// Batcher collects items from any goroutine and hands them to a processor in
// batches, from a single background goroutine.
type Batcher[T any] struct {
	config  Config
	process ProcessFunc[T]
	onError func(error)

	mu      sync.Mutex
	pending []T
	dropped uint64

	flushCh  chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New[T any](config Config, process ProcessFunc[T], onError func(error)) *Batcher[T] {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.MaxPending <= 0 {
		config.MaxPending = 4 * config.Size
	}
	if onError == nil {
		onError = func(error) {}
	}

	b := &Batcher[T]{
		config:  config,
		process: process,
		onError: onError,
		pending: make([]T, 0, config.Size),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Add queues an item without blocking. It returns false when the item was
// dropped because the queue is full or the batcher is stopped.
func (b *Batcher[T]) Add(item T) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	b.mu.Lock()
	if len(b.pending) >= b.config.MaxPending {
		b.dropped++
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	shouldFlush := len(b.pending) >= b.config.Size
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush processes everything pending now.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := make([]T, len(b.pending))
	copy(items, b.pending)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	return b.process(ctx, items)
}

func (b *Batcher[T]) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	flush := func() {
		if err := b.Flush(context.Background()); err != nil {
			b.onError(err)
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case <-b.flushCh:
			flush()
		case <-b.stopCh:
			flush()
			return
		}
	}
}

// Stop flushes what is pending and waits for the background goroutine, or
// for ctx.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dropped returns how many items Add rejected because the queue was full.
func (b *Batcher[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
