package batch

import (
	"sync"
	"time"
)

// Batcher collects items and flushes them in batches by size or time threshold.
type Batcher[T any] struct {
	mu       sync.Mutex
	items    []T
	maxSize  int
	interval time.Duration
	flushFn  func([]T)
	timer    *time.Timer
	stopped  bool
	last     chan struct{} // closed when the most recent flush returns
	wg       sync.WaitGroup
}

// NewBatcher creates a batcher that calls flushFn when maxSize items accumulate
// or interval elapses since the first item, whichever comes first. Flushes run
// one at a time in the order they were triggered.
func NewBatcher[T any](maxSize int, interval time.Duration, flushFn func([]T)) *Batcher[T] {
	return &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
	}
}

// Add adds an item to the batch. May trigger a flush.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	b.items = append(b.items, item)

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	if len(b.items) == 1 {
		b.timer = time.AfterFunc(b.interval, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.stopped && len(b.items) > 0 {
				b.flushLocked()
			}
		})
	}
}

// Flush forces a flush of any pending items and waits for it.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	if len(b.items) > 0 {
		b.flushLocked()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Stop flushes remaining items, waits for in-flight flushes, and prevents future adds.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if len(b.items) > 0 {
		b.flushLocked()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// flushLocked hands the pending items to a goroutine that waits for the
// previous flush first, so batches reach flushFn in order.
func (b *Batcher[T]) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = nil

	prev := b.last
	done := make(chan struct{})
	b.last = done
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		b.flushFn(items)
	}()
}
