package remote

import (
	"context"
	"sync"
	"time"

	"github.com/fandirect/macbridge/internal/logging"
	"github.com/fandirect/macbridge/internal/metrics"
)

// MappingFetcher pulls a full sender-to-tenant snapshot from the remote store.
type MappingFetcher interface {
	FetchMappings(ctx context.Context) (map[string]string, error)
}

// MappingCache is the in-memory sender-to-tenant map. Refreshes replace the
// snapshot wholesale; a failed refresh leaves the previous snapshot in place
// so resolution keeps working on stale data.
type MappingCache struct {
	fetcher  MappingFetcher
	interval time.Duration
	log      *logging.Logger

	mu       sync.RWMutex
	mappings map[string]string
}

func NewMappingCache(fetcher MappingFetcher, interval time.Duration) *MappingCache {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MappingCache{
		fetcher:  fetcher,
		interval: interval,
		log:      logging.New("mapping-cache"),
		mappings: make(map[string]string),
	}
}

// Refresh fetches and atomically swaps in a new snapshot.
func (c *MappingCache) Refresh(ctx context.Context) error {
	snapshot, err := c.fetcher.FetchMappings(ctx)
	if err != nil {
		metrics.MappingRefreshesTotal.WithLabelValues("failed").Inc()
		c.log.WithContext(ctx).WithError(err).Error("mapping refresh failed, keeping previous snapshot")
		return err
	}

	c.mu.Lock()
	c.mappings = snapshot
	c.mu.Unlock()

	metrics.MappingRefreshesTotal.WithLabelValues("ok").Inc()
	metrics.MappingsLoaded.Set(float64(len(snapshot)))
	c.log.WithContext(ctx).WithField("mappings", len(snapshot)).Info("mapping cache refreshed")
	return nil
}

// Resolve is an exact, case-sensitive lookup against the current snapshot.
func (c *MappingCache) Resolve(sender string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tenant, ok := c.mappings[sender]
	return tenant, ok
}

// Len reports the size of the current snapshot.
func (c *MappingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mappings)
}

// Run refreshes on the configured interval until ctx is cancelled. The
// initial synchronous refresh is the caller's responsibility so ingest can
// wait for it before starting.
func (c *MappingCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
