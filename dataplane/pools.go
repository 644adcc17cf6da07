package dataplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/dialect"
)

// datasourceDSN is the shape of DatasourceRecord.Config: a JSON-encoded
// DSN string, matching infrastructure/config's YAML Datasource entry.
type datasourceDSN struct {
	DSN string `json:"dsn"`
}

// PoolCache lazily opens and caches one *dialect.Pool per datasource
// name, torn down when that name disappears from the catalog (see
// Reconcile).
type PoolCache struct {
	mu    sync.RWMutex
	pools map[string]*dialect.Pool
}

func NewPoolCache() *PoolCache {
	return &PoolCache{pools: make(map[string]*dialect.Pool)}
}

// Get returns the pool for ds, opening it on first use.
func (c *PoolCache) Get(ctx context.Context, ds catalog.DatasourceRecord) (*dialect.Pool, error) {
	c.mu.RLock()
	if p, ok := c.pools[ds.Name]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools[ds.Name]; ok {
		return p, nil
	}

	var cfg datasourceDSN
	if err := json.Unmarshal([]byte(ds.Config), &cfg); err != nil {
		return nil, fmt.Errorf("dataplane: parse datasource %s config: %w", ds.Name, err)
	}

	pool, err := dialect.Open(ctx, ds.Name, dialect.Driver(ds.Driver), cfg.DSN, ds.MaxPoolSize)
	if err != nil {
		return nil, err
	}
	c.pools[ds.Name] = pool
	return pool, nil
}

// Reconcile closes and drops the pools whose datasource name is no
// longer present in live. Pools are matched by name only: a datasource
// whose driver or config changed under the same name keeps its
// already-open pool.
func (c *PoolCache) Reconcile(live map[string]catalog.DatasourceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, pool := range c.pools {
		if _, ok := live[name]; !ok {
			pool.Close()
			delete(c.pools, name)
		}
	}
}

func (c *PoolCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.Close()
	}
	c.pools = make(map[string]*dialect.Pool)
}
