package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

// ErrNotFound is returned when no snapshot exists for a device.
var ErrNotFound = errors.New("not found")

// Entry pairs a snapshot with its read-time staleness.
type Entry struct {
	Snapshot *models.Snapshot
	Stale    bool
}

// Cache holds the last-known-good snapshot per device. Publish swaps the
// pointer under a short write lock; snapshots are never mutated after
// publish, so readers holding an old pointer stay consistent. Staleness is
// computed at read time against the configured max age.
type Cache struct {
	mu         sync.RWMutex
	snapshots  map[string]*models.Snapshot
	staleAfter time.Duration
	now        func() time.Time
}

func NewCache(staleAfter time.Duration) *Cache {
	return &Cache{
		snapshots:  make(map[string]*models.Snapshot),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Publish atomically replaces the device's snapshot. A failed poll never
// calls Publish, leaving the previous snapshot untouched.
func (c *Cache) Publish(snapshot *models.Snapshot) {
	c.mu.Lock()
	c.snapshots[snapshot.DeviceID] = snapshot
	c.mu.Unlock()
}

// Get returns the device's entry with staleness evaluated now.
func (c *Cache) Get(deviceID string) (Entry, error) {
	c.mu.RLock()
	snapshot, ok := c.snapshots[deviceID]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Snapshot: snapshot, Stale: c.isStale(snapshot)}, nil
}

// All returns every device's entry. The lock is held only while copying
// pointers, so scrapes never block on or get blocked by poll cycles.
func (c *Cache) All() []Entry {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.snapshots))
	for _, snapshot := range c.snapshots {
		entries = append(entries, Entry{Snapshot: snapshot})
	}
	c.mu.RUnlock()

	for i := range entries {
		entries[i].Stale = c.isStale(entries[i].Snapshot)
	}
	return entries
}

func (c *Cache) isStale(s *models.Snapshot) bool {
	return s.Age(c.now()) > c.staleAfter
}
