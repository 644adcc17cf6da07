// Package dataplane is the gateway's data plane: the reconciler that
// derives routing tables, CRUD engines, and auth chains from the
// catalog, and the per-listener HTTP servers that run requests through
// the module pipeline. The listener set is catalog-declared and
// hot-reloadable, not fixed at process start.
package dataplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/pipeline"
)

// DefaultPollInterval is how often the reconciler checks the catalog's
// revision counter absent a configured override.
const DefaultPollInterval = 2 * time.Second

// Runtime is the top-level data-plane orchestrator: it owns the pool
// cache, the reconciler, and the live set of per-listener HTTP servers,
// keeping the latter in sync with whatever the reconciler's snapshot
// says should be running. The reconcile loop itself runs on
// robfig/cron/v3 rather than a hand-rolled ticker.
type Runtime struct {
	store      *catalog.Store
	pools      *PoolCache
	reconciler *Reconciler
	registry   pipeline.Registry
	logger     *logging.Logger

	mu        sync.Mutex
	listeners map[string]*Listener // by catalog.ListenerRecord.ID
	scheduler *cron.Cron
}

// Pools exposes the runtime's connection-pool cache so cmd/apify can
// hand the same cache to the control plane's /data/* routes when both
// planes run in one process, instead of opening a duplicate pool per
// datasource.
func (rt *Runtime) Pools() *PoolCache {
	return rt.pools
}

func New(store *catalog.Store, logger *logging.Logger) *Runtime {
	registry := pipeline.BuiltinRegistry(logger)
	registerCRUDModule(registry)

	pools := NewPoolCache()
	return &Runtime{
		store:      store,
		pools:      pools,
		reconciler: NewReconciler(store, pools, logger),
		registry:   registry,
		logger:     logger,
		listeners:  make(map[string]*Listener),
	}
}

// Start runs one synchronous reconcile so the first request after
// startup already has a populated routing table, opens the resulting
// listener set, then schedules further reconciles every pollInterval
// on a cron job until Stop is called.
func (rt *Runtime) Start(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	if err := rt.ReconcileNow(ctx); err != nil {
		return err
	}

	rt.scheduler = cron.New()
	_, err := rt.scheduler.AddFunc(fmt.Sprintf("@every %s", pollInterval), func() {
		if err := rt.ReconcileNow(ctx); err != nil {
			rt.logger.Error(ctx, "reconcile failed", err, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("dataplane: schedule reconcile: %w", err)
	}
	rt.scheduler.Start()
	return nil
}

// ReconcileNow runs one reconcile cycle plus listener sync outside the
// regular poll schedule. The poll loop calls it on every tick; the
// optional Postgres notify fast path calls it the moment a catalog
// revision bump arrives, instead of waiting out the interval.
func (rt *Runtime) ReconcileNow(ctx context.Context) error {
	if err := rt.reconciler.ReconcileOnce(ctx); err != nil {
		return err
	}
	rt.syncListeners()
	return nil
}

// syncListeners opens a Listener for every catalog ListenerRecord the
// latest snapshot carries and closes any that are no longer present.
func (rt *Runtime) syncListeners() {
	snap := rt.reconciler.Snapshot()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	seen := make(map[string]bool, len(snap.listeners))
	for _, rec := range snap.listeners {
		seen[rec.ID] = true
		if _, ok := rt.listeners[rec.ID]; ok {
			continue
		}
		l := newListener(rec, rt.reconciler, rt.registry, rt.logger)
		if err := l.Start(); err != nil {
			rt.logger.Error(context.Background(), "listener start failed", err, map[string]interface{}{"listener": rec.Name})
			continue
		}
		rt.listeners[rec.ID] = l
	}

	for id, l := range rt.listeners {
		if seen[id] {
			continue
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = l.Shutdown(shutdownCtx)
		cancel()
		delete(rt.listeners, id)
	}
}

// Stop stops the reconcile loop and gracefully shuts down every
// listener and pooled connection.
func (rt *Runtime) Stop(ctx context.Context) {
	if rt.scheduler != nil {
		<-rt.scheduler.Stop().Done()
	}

	rt.mu.Lock()
	for _, l := range rt.listeners {
		_ = l.Shutdown(ctx)
	}
	rt.listeners = make(map[string]*Listener)
	rt.mu.Unlock()

	rt.pools.CloseAll()
}
