// Package routing implements the RoutingTable: a longest-match trie
// per listener, rebuilt wholesale by the reconciler and swapped in
// atomically so in-flight requests never observe a half-built table.
// Path parameters use the {name} segment convention.
package routing

import (
	"sync/atomic"

	"github.com/apifyhost/apify/pipeline"
	"github.com/apifyhost/apify/schemagen"
)

// binding is everything the pipeline's Route/Access/Data phases need
// once a path has matched: the compiled OperationBinding, the modules
// merged down from listener/route/operation level,
// and the datasource the CRUD engine should run the binding against.
type binding struct {
	Operation      schemagen.OperationBinding
	Modules        pipeline.ConfigSet
	APIID          string
	DatasourceName string
}

// Result is the outcome of resolving one (listener, method, path).
type Result struct {
	Binding    *schemagen.OperationBinding
	Modules    pipeline.ConfigSet
	APIID      string
	DatasourceName string
	PathParams map[string]string
	// PathExists is true when some method is registered for this path
	// on this listener, used to distinguish 404 (no route) from 405
	// (route exists, method does not).
	PathExists     bool
	AllowedMethods []string
}

// generation is one fully-built, immutable snapshot of the routing
// table: one trie root per listener ID.
type generation struct {
	roots map[string]*node
	seq   int64
}

// RoutingTable holds the live generation behind an atomic pointer so
// Match never blocks on, or observes a partial view of, a rebuild.
type RoutingTable struct {
	current atomic.Pointer[generation]
}

// New returns an empty RoutingTable; Match on it always misses until
// the first Build/Swap.
func New() *RoutingTable {
	t := &RoutingTable{}
	t.current.Store(&generation{roots: make(map[string]*node)})
	return t
}

// Builder accumulates bindings for one upcoming generation. The
// reconciler creates one Builder per rebuild cycle, registers every API's
// operations into it, then calls RoutingTable.Swap(builder) to publish.
type Builder struct {
	roots map[string]*node
	seq   int64
}

// NewBuilder starts a new generation at sequence number seq (typically
// the catalog's MaxRevision at snapshot time).
func NewBuilder(seq int64) *Builder {
	return &Builder{roots: make(map[string]*node), seq: seq}
}

// Register adds one operation binding to listenerID's trie.
func (b *Builder) Register(listenerID string, op schemagen.OperationBinding, modules pipeline.ConfigSet, apiID, datasourceName string) {
	root, ok := b.roots[listenerID]
	if !ok {
		root = newNode()
		b.roots[listenerID] = root
	}
	root.insert(op.Method, op.PathTemplate, &binding{
		Operation:      op,
		Modules:        modules,
		APIID:          apiID,
		DatasourceName: datasourceName,
	})
}

// Swap publishes b as the table's new, visible generation in one atomic
// store.
func (t *RoutingTable) Swap(b *Builder) {
	t.current.Store(&generation{roots: b.roots, seq: b.seq})
}

// Generation returns the sequence number of the currently published
// generation, for observability/logging.
func (t *RoutingTable) Generation() int64 {
	return t.current.Load().seq
}

// Match resolves (listenerID, method, path) against the live
// generation. A nil Binding with PathExists true means 404-vs-405
// should resolve to 405 (method not allowed); a nil Binding with
// PathExists false means a plain 404.
func (t *RoutingTable) Match(listenerID, method, path string) Result {
	gen := t.current.Load()
	root, ok := gen.roots[listenerID]
	if !ok {
		return Result{}
	}

	mr := root.match(path)
	if !mr.pathExists || mr.node == nil || len(mr.node.methods) == 0 {
		return Result{}
	}

	b, ok := mr.node.methods[method]
	if !ok {
		allowed := make([]string, 0, len(mr.node.methods))
		for m := range mr.node.methods {
			allowed = append(allowed, m)
		}
		return Result{PathExists: true, AllowedMethods: allowed, PathParams: mr.params}
	}

	return Result{
		Binding:        &b.Operation,
		Modules:        b.Modules,
		APIID:          b.APIID,
		DatasourceName: b.DatasourceName,
		PathParams:     mr.params,
		PathExists:     true,
	}
}
