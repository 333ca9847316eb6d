package optimistic

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"attendsync/internal/backend"
	"attendsync/internal/events"
)

// Fetcher reads the canonical class list for a user's day.
type Fetcher interface {
	ListClasses(ctx context.Context, userID string, day time.Time) ([]backend.ClassSession, error)
}

type Publisher interface {
	Publish(ev events.ClassListEvent) bool
}

// Snapshot is a user's cached list as it was before an action.
type Snapshot struct {
	UserID  string
	Classes []backend.ClassSession
	Cached  bool
	Stale   bool
}

// entry is never mutated in place; every change installs a new one so a
// fetch can tell whether the list moved while it was out.
type entry struct {
	classes []backend.ClassSession
	stale   bool
}

// Cache holds each user's class list for today and applies the optimistic
// flip / rollback / invalidate cycle around attendance actions.
type Cache struct {
	fetch Fetcher
	pub   Publisher
	loc   *time.Location
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a cache. pub may be nil.
func New(f Fetcher, pub Publisher, loc *time.Location) *Cache {
	if loc == nil {
		loc = time.UTC
	}
	return &Cache{
		fetch:   f,
		pub:     pub,
		loc:     loc,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Get returns the cached list, fetching it when missing or stale.
func (c *Cache) Get(ctx context.Context, userID string) ([]backend.ClassSession, error) {
	c.mu.Lock()
	seen := c.entries[userID]
	if seen != nil && !seen.stale {
		out := slices.Clone(seen.classes)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	classes, err := c.fetch.ListClasses(ctx, userID, c.now().In(c.loc))
	if err != nil {
		return nil, fmt.Errorf("listing classes for %s: %w", userID, err)
	}

	c.mu.Lock()
	stored := c.entries[userID] == seen
	if stored {
		c.entries[userID] = &entry{classes: slices.Clone(classes)}
	}
	c.mu.Unlock()

	if stored {
		c.publish(events.Refreshed, userID, "", classes)
	} else {
		log.Printf("[Cache] List for %s changed during fetch, not storing\n", userID)
	}
	return classes, nil
}

// Snapshot returns the current cached state for userID.
func (c *Cache) Snapshot(userID string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(userID)
}

// OnActionStart snapshots the user's list, sets classID to status locally and
// publishes the guess. The snapshot is what OnActionError restores. status is
// where the action moves the class: present for a check-in, absent for a
// mark-absent.
func (c *Cache) OnActionStart(userID, classID string, status backend.AttendanceStatus) Snapshot {
	c.mu.Lock()
	snap := c.snapshotLocked(userID)
	e := c.entries[userID]
	if e == nil {
		c.mu.Unlock()
		return snap
	}

	flipped := slices.Clone(e.classes)
	found := false
	for i := range flipped {
		if flipped[i].ClassID == classID {
			flipped[i].Status = status
			found = true
		}
	}
	if found {
		c.entries[userID] = &entry{classes: flipped, stale: e.stale}
	}
	c.mu.Unlock()

	if found {
		c.publish(events.Flipped, userID, classID, flipped)
	}
	return snap
}

// OnActionError puts back exactly what snap captured.
func (c *Cache) OnActionError(classID string, snap Snapshot) {
	c.mu.Lock()
	if snap.Cached {
		c.entries[snap.UserID] = &entry{classes: slices.Clone(snap.Classes), stale: snap.Stale}
	} else {
		delete(c.entries, snap.UserID)
	}
	c.mu.Unlock()

	c.publish(events.Restored, snap.UserID, classID, snap.Classes)
}

// OnActionSettle marks the user's list stale so the next Get re-fetches it.
func (c *Cache) OnActionSettle(userID, classID string) {
	c.mu.Lock()
	if e := c.entries[userID]; e != nil {
		c.entries[userID] = &entry{classes: e.classes, stale: true}
	}
	c.mu.Unlock()

	c.publish(events.Invalidated, userID, classID, nil)
}

func (c *Cache) snapshotLocked(userID string) Snapshot {
	snap := Snapshot{UserID: userID}
	if e := c.entries[userID]; e != nil {
		snap.Cached = true
		snap.Stale = e.stale
		snap.Classes = slices.Clone(e.classes)
	}
	return snap
}

func (c *Cache) publish(kind events.Kind, userID, classID string, classes []backend.ClassSession) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(events.ClassListEvent{
		Kind:    kind,
		UserID:  userID,
		ClassID: classID,
		Classes: slices.Clone(classes),
	})
}
