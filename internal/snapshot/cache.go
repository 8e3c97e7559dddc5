package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/statusd/internal/config"
	"github.com/hazz-dev/statusd/internal/metrics"
	"github.com/hazz-dev/statusd/internal/storage"
)

// DefaultTTL is the maximum age of a served snapshot.
const DefaultTTL = 60 * time.Second

// Source gives locked read access to the store.
type Source interface {
	View(fn func(storage.Reader) error) error
}

// Cache serves the latest snapshot and rebuilds it once it is older than
// the TTL. The store lock is taken before the cache lock, and the cache lock
// is held only to swap the new value in.
type Cache struct {
	source  Source
	servers []config.Server
	days    int
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.RWMutex
	current   *Snapshot
	generated time.Time
}

// NewCache creates a Cache over servers reporting days of history.
// Pass nil logger to use the default logger.
func NewCache(source Source, servers []config.Server, days int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source:  source,
		servers: servers,
		days:    days,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source (for testing).
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the staleness bound of the cache.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached snapshot, refreshing it first when it is stale.
// On refresh failure the previous snapshot is kept and the error returned.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap, generated := c.current, c.generated
	c.mu.RUnlock()

	if snap != nil && c.now().Sub(generated) <= c.ttl {
		return snap, nil
	}
	return c.Refresh(ctx)
}

// Refresh rebuilds the snapshot from the store and replaces the cached value.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	now := c.now()
	var snap *Snapshot
	err := c.source.View(func(r storage.Reader) error {
		var err error
		snap, err = Build(ctx, r, c.servers, now, c.days)
		return err
	})
	metrics.RecordRefresh(err == nil)
	if err != nil {
		c.logger.Error("refreshing snapshot", "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.current = snap
	c.generated = now
	c.mu.Unlock()

	c.logger.Debug("snapshot refreshed", "servers", len(snap.Servers))
	return snap, nil
}
