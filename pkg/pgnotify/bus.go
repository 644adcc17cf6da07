// Package pgnotify is the optional PostgreSQL-only fast path for the
// data-plane reconciler: a thin wrapper over pq.Listener that notifies
// subscribers when the catalog's revision counter advances, so a
// reconcile can be triggered between polls instead of waiting out the
// full APIFY_CONFIG_POLL_INTERVAL. One fixed channel carrying the new
// revision number is all the reconciler needs. The poll itself remains
// the source of truth; this bus is additive and never required, and
// SQLite catalogs never construct one.
package pgnotify

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
)

// RevisionChannel is the fixed NOTIFY/LISTEN channel carrying catalog
// revision bumps. One channel is enough: the reconciler only needs to
// know "something changed," then re-reads the full snapshot itself.
const RevisionChannel = "apify_catalog_revision"

// RevisionHandler is invoked with the new revision whenever a NOTIFY
// arrives. Handlers run in their own goroutine so a slow reconcile pass
// never blocks the listener's read loop.
type RevisionHandler func(ctx context.Context, revision int64)

// Bus is a PostgreSQL NOTIFY/LISTEN bus scoped to catalog revision
// change notifications.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener

	mu       sync.RWMutex
	handlers []RevisionHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens a dedicated listener connection against dsn and starts its
// read loop. The caller is responsible for closing it (Close).
func New(dsn string) (*Bus, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgnotify: ping: %w", err)
	}
	return NewWithDB(db, dsn)
}

// NewWithDB builds a Bus reusing an existing *sql.DB for Publish calls
// while pq.Listener opens its own dedicated connection for LISTEN
// (required by the postgres wire protocol: a listening connection
// cannot be pooled).
func NewWithDB(db *sql.DB, dsn string) (*Bus, error) {
	reportProblem := func(_ pq.ListenerEventType, err error) {
		if err != nil {
			fmt.Printf("pgnotify: listener error: %v\n", err)
		}
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(RevisionChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("pgnotify: listen %s: %w", RevisionChannel, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{db: db, listener: listener, ctx: ctx, cancel: cancel}

	b.wg.Add(1)
	go b.readLoop()

	return b, nil
}

// NotifyRevision publishes revision on RevisionChannel, waking any
// reconciler listening on this or another process.
func (b *Bus) NotifyRevision(ctx context.Context, revision int64) error {
	_, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", RevisionChannel, strconv.FormatInt(revision, 10))
	if err != nil {
		return fmt.Errorf("pgnotify: notify: %w", err)
	}
	return nil
}

// Subscribe registers handler to run on every revision notification.
func (b *Bus) Subscribe(handler RevisionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Close stops the read loop and releases the listener connection.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

func (b *Bus) readLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case notification := <-b.listener.Notify:
			if notification == nil {
				continue // connection lost; pq.Listener reconnects and re-LISTENs on its own
			}
			revision, err := strconv.ParseInt(notification.Extra, 10, 64)
			if err != nil {
				continue
			}
			b.dispatch(revision)
		case <-time.After(90 * time.Second):
			go func() {
				if err := b.listener.Ping(); err != nil {
					fmt.Printf("pgnotify: ping error: %v\n", err)
				}
			}()
		}
	}
}

func (b *Bus) dispatch(revision int64) {
	b.mu.RLock()
	handlers := make([]RevisionHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h RevisionHandler) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			h(ctx, revision)
		}(h)
	}
}
