package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/logging"
)

const snapshotKey = "catalog"

// Loader produces a fresh catalog snapshot.
type Loader func(ctx context.Context) (*Static, error)

// Cached serves catalog lookups from a snapshot that is reloaded once its TTL
// lapses. Concurrent reloads are collapsed into one. When a reload fails the
// last good snapshot keeps being served.
type Cached struct {
	load   Loader
	ttl    time.Duration
	store  *cache.Cache
	group  singleflight.Group
	logger *slog.Logger

	mu       sync.RWMutex
	lastGood *Static
}

// NewCached wraps load with a TTL cache. A non-positive ttl defaults to one minute.
func NewCached(load Loader, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		load:   load,
		ttl:    ttl,
		store:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// Snapshot returns the current snapshot, reloading it when expired.
func (c *Cached) Snapshot(ctx context.Context) (*Static, error) {
	if cached, ok := c.store.Get(snapshotKey); ok {
		return cached.(*Static), nil
	}

	v, err, _ := c.group.Do(snapshotKey, func() (any, error) {
		if cached, ok := c.store.Get(snapshotKey); ok {
			return cached, nil
		}
		snapshot, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Set(snapshotKey, snapshot, c.ttl)
		c.mu.Lock()
		c.lastGood = snapshot
		c.mu.Unlock()
		return snapshot, nil
	})
	if err != nil {
		c.mu.RLock()
		last := c.lastGood
		c.mu.RUnlock()
		if last != nil {
			logging.FromContextOr(ctx, c.logger).Warn("catalog reload failed; serving previous snapshot",
				"error", err,
				"units", last.Len(),
			)
			return last, nil
		}
		return nil, err
	}
	return v.(*Static), nil
}

// Invalidate drops the cached snapshot so the next lookup reloads it.
func (c *Cached) Invalidate() {
	c.store.Delete(snapshotKey)
}

// Unit implements availability.Catalog.
func (c *Cached) Unit(ctx context.Context, unitID string) (availability.EquipmentUnit, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return availability.EquipmentUnit{}, err
	}
	return snapshot.Unit(ctx, unitID)
}

// UnitsInCategory implements availability.Catalog.
func (c *Cached) UnitsInCategory(ctx context.Context, categoryID string) ([]availability.EquipmentUnit, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.UnitsInCategory(ctx, categoryID)
}
