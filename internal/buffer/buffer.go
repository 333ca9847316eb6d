package buffer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"attendsync/internal/metrics"
	"attendsync/internal/mirror"
)

// Updater runs one optimistic read-modify-write against a user's document.
type Updater interface {
	Update(ctx context.Context, userID string, fn func(*mirror.Document) error) (mirror.Document, error)
}

type Config struct {
	// Debounce is how long a non-urgent write may wait before the
	// background loop flushes it.
	Debounce time.Duration
	// Interval is the background loop's tick.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce: 2 * time.Second,
		Interval: 1 * time.Second,
	}
}

type slot struct {
	write PendingWrite
	since time.Time
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Buffer coalesces mirror writes per user. Enqueue merges into the user's
// slot; FlushNow drains it through a single transaction.
type Buffer struct {
	store Updater
	cfg   Config
	now   func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
	locks map[string]*userLock
}

func New(store Updater, cfg Config) *Buffer {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Buffer{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		slots: make(map[string]*slot),
		locks: make(map[string]*userLock),
	}
}

func (b *Buffer) Enqueue(w PendingWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[w.UserID]; ok {
		s.write = Merge(s.write, w)
		return
	}
	b.slots[w.UserID] = &slot{write: w, since: b.now()}
	metrics.PendingWrites.Set(float64(len(b.slots)))
}

// Pending returns the merged write waiting for userID, if any.
func (b *Buffer) Pending(userID string) (PendingWrite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[userID]
	if !ok {
		return PendingWrite{}, false
	}
	return s.write, true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// FlushNow applies the user's pending write and clears the slot. Flushes for
// the same user are serialized, so when FlushNow returns nil every write
// enqueued before the call has been persisted. On failure the write is put
// back for a later attempt.
func (b *Buffer) FlushNow(ctx context.Context, userID string) error {
	unlock := b.lockUser(userID)
	defer unlock()

	w, ok := b.take(userID)
	if !ok {
		return nil
	}
	if w.isEmpty() {
		return nil
	}

	_, err := b.store.Update(ctx, userID, func(doc *mirror.Document) error {
		Apply(doc, w)
		return nil
	})
	if err != nil {
		b.restore(w)
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		log.Printf("[Buffer] Flush failed for %s, re-queued (delta %d): %v\n", userID, w.AmplixDelta, err)
		return fmt.Errorf("flushing pending write for %s: %w", userID, err)
	}
	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	return nil
}

// FlushDue flushes every write that has waited at least the debounce window.
func (b *Buffer) FlushDue(ctx context.Context) error {
	now := b.now()
	b.mu.Lock()
	var due []string
	for id, s := range b.slots {
		if now.Sub(s.since) >= b.cfg.Debounce {
			due = append(due, id)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, id := range due {
		if err := b.FlushNow(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushAll flushes every pending write regardless of age.
func (b *Buffer) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.slots))
	for id := range b.slots {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := b.FlushNow(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes due writes on every tick until ctx is done.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.FlushDue(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Buffer] Background flush error: %v\n", err)
			}
		}
	}
}

func (b *Buffer) take(userID string) (PendingWrite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[userID]
	if !ok {
		return PendingWrite{}, false
	}
	delete(b.slots, userID)
	metrics.PendingWrites.Set(float64(len(b.slots)))
	return s.write, true
}

// restore puts a failed write back ahead of anything enqueued meanwhile.
func (b *Buffer) restore(w PendingWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[w.UserID]; ok {
		s.write = Merge(w, s.write)
		return
	}
	b.slots[w.UserID] = &slot{write: w, since: b.now()}
	metrics.PendingWrites.Set(float64(len(b.slots)))
}

func (b *Buffer) lockUser(userID string) func() {
	b.mu.Lock()
	l, ok := b.locks[userID]
	if !ok {
		l = &userLock{}
		b.locks[userID] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, userID)
		}
		b.mu.Unlock()
	}
}
