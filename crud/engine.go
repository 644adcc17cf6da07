// Package crud implements the CRUD engine: translates an
// OperationBinding and a validated request body into SQL against the
// operation's datasource, including nested hasMany/hasOne/belongsTo
// relation handling, audit-field injection, and cascade delete. All
// statements are built through dialect's neutral AST against whatever
// TableSchema/RelationDefinition set schemagen derived at ingestion
// time.
package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	apierrors "github.com/apifyhost/apify/infrastructure/errors"

	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/schemagen"
)

// Engine executes CRUD operations against one datasource pool, using the
// table/relation metadata SchemaGenerator produced for the owning API.
type Engine struct {
	Pool      *dialect.Pool
	Tables    map[string]schemagen.TableSchema
	Relations []schemagen.RelationDefinition

	// Audit, when set, receives one LogAudit call per successful Create,
	// Update, and Delete. Left nil by New; the reconciler wires it in once
	// it has a *logging.Logger for the owning process.
	Audit *logging.Logger
}

// txExecutor is the subset of *dialect.Pool and *dialect.Tx the engine
// needs to run writes either directly against the pool or inside an
// active transaction.
type txExecutor interface {
	QueryRow(ctx context.Context, query string, args ...any) (dialect.RowMap, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// dbErr maps a database failure to the error taxonomy: a deadline that
// expired mid-statement surfaces as Timeout (504), anything else as
// Internal (500).
func dbErr(op string, err error) *apierrors.ServiceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.Timeout(op)
	}
	return apierrors.Internal(op, err)
}

func (e *Engine) logAudit(ctx context.Context, action, table, id, result string) {
	if e.Audit == nil {
		return
	}
	e.Audit.LogAudit(ctx, action, table, id, result)
}

// New constructs an Engine over pool using tables/relations derived by
// schemagen.Generator.Generate for one API.
func New(pool *dialect.Pool, tables []schemagen.TableSchema, relations []schemagen.RelationDefinition) *Engine {
	byName := make(map[string]schemagen.TableSchema, len(tables))
	for _, t := range tables {
		byName[t.TableName] = t
	}
	return &Engine{Pool: pool, Tables: byName, Relations: relations}
}

func (e *Engine) relationsRootedAt(table string) []schemagen.RelationDefinition {
	var out []schemagen.RelationDefinition
	for _, r := range e.Relations {
		if r.ParentTable == table {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) primaryKey(table string) string {
	schema, ok := e.Tables[table]
	if !ok {
		return "id"
	}
	for _, c := range schema.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return "id"
}

// Row is one result record, column name to value, matching the
// "result rows as maps" requirement.
type Row = map[string]any

// List implements `GET /collection`: equality filters from query
// parameters matching column names, limit/offset, primary-key-ascending
// order, then a batched relation fetch per RelationDefinition rooted at
// table.
func (e *Engine) List(ctx context.Context, table string, filters map[string]string, limit, offset int) ([]Row, error) {
	schema, ok := e.Tables[table]
	if !ok {
		return nil, apierrors.NotFound("table", table)
	}

	sel := dialect.Select{Table: table, OrderBy: e.Pool.Dialect.QuoteIdent(e.primaryKey(table)), Limit: limit, Offset: offset}
	for _, col := range schema.Columns {
		if v, ok := filters[col.Name]; ok {
			sel.Where = append(sel.Where, dialect.Eq(col.Name, v))
		}
	}

	query, args := sel.Build(e.Pool.Dialect)
	rows, err := e.Pool.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, dbErr("crud: list "+table, err)
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}

	if err := e.attachRelations(ctx, table, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get implements `GET /collection/{id}`: single row by primary key, with nested
// relations loaded as in List but scoped to one parent key.
func (e *Engine) Get(ctx context.Context, table string, id any) (Row, error) {
	if _, ok := e.Tables[table]; !ok {
		return nil, apierrors.NotFound("table", table)
	}
	sel := dialect.Select{Table: table, Where: []dialect.Predicate{dialect.Eq(e.primaryKey(table), id)}}
	query, args := sel.Build(e.Pool.Dialect)

	row, err := e.Pool.QueryRow(ctx, query, args...)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound(table, toIDString(id))
	}
	if err != nil {
		return nil, dbErr("crud: get "+table, err)
	}

	rows := []Row{Row(row)}
	if err := e.attachRelations(ctx, table, rows); err != nil {
		return nil, err
	}
	return rows[0], nil
}

// Create implements `POST /collection`: filters body to writable columns,
// peels nested relation fields, inserts the parent, injects audit
// fields, then inserts/attaches children per relation type. The parent
// insert and every child insert run inside one transaction so a
// failed child insert never leaves an orphaned parent row behind.
func (e *Engine) Create(ctx context.Context, table string, body map[string]any, subject string) (Row, error) {
	schema, ok := e.Tables[table]
	if !ok {
		return nil, apierrors.NotFound("table", table)
	}
	relations := e.relationsRootedAt(table)

	nested, scalar := peel(body, relations)

	cols, vals := writableColumns(schema, scalar)
	now := time.Now().UTC()
	cols, vals = setAuditOnCreate(schema, cols, vals, subject, now)

	tx, err := e.Pool.BeginTx(ctx)
	if err != nil {
		return nil, apierrors.Internal("crud: create "+table+": begin tx", err)
	}
	defer tx.Rollback()

	pk := e.primaryKey(table)
	ins := dialect.Insert{Table: table, Columns: cols, Values: vals, PK: pk}
	query, args := ins.Build(e.Pool.Dialect)

	var newID any
	if e.Pool.Dialect.SupportsReturning() {
		row, err := tx.QueryRow(ctx, query, args...)
		if err != nil {
			e.logAudit(ctx, "create", table, "", "failure")
			return nil, dbErr("crud: create "+table, err)
		}
		newID = row[pk]
	} else {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			e.logAudit(ctx, "create", table, "", "failure")
			return nil, dbErr("crud: create "+table, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, apierrors.Internal("crud: create "+table+": read last insert id", err)
		}
		newID = id
	}

	for _, rel := range relations {
		children, ok := nested[rel.FieldName]
		if !ok {
			continue
		}
		if err := e.createChildren(ctx, tx, rel, newID, children, subject, now); err != nil {
			e.logAudit(ctx, "create", table, toIDString(newID), "failure")
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Internal("crud: create "+table+": commit", err)
	}
	e.logAudit(ctx, "create", table, toIDString(newID), "success")

	return e.Get(ctx, table, newID)
}

// Update implements `PUT /collection/{id}`: writable-column SET, updatedBy/
// updatedAt injection, and replace-semantics for any nested relation key
// present in the body (absent keys leave existing children untouched).
// The scalar UPDATE and every relation's delete-then-reinsert pair run
// inside one transaction, so a failed reinsert never leaves a relation
// with its old children deleted and no replacements.
func (e *Engine) Update(ctx context.Context, table string, id any, body map[string]any, subject string) (Row, error) {
	schema, ok := e.Tables[table]
	if !ok {
		return nil, apierrors.NotFound("table", table)
	}
	if _, err := e.Get(ctx, table, id); err != nil {
		return nil, err
	}

	relations := e.relationsRootedAt(table)
	nested, scalar := peel(body, relations)

	cols, vals := writableColumns(schema, scalar)
	now := time.Now().UTC()
	cols, vals = setAuditOnUpdate(schema, cols, vals, subject, now)

	tx, err := e.Pool.BeginTx(ctx)
	if err != nil {
		return nil, apierrors.Internal("crud: update "+table+": begin tx", err)
	}
	defer tx.Rollback()

	if len(cols) > 0 {
		upd := dialect.Update{Table: table, Columns: cols, Values: vals, Where: []dialect.Predicate{dialect.Eq(e.primaryKey(table), id)}}
		query, args := upd.Build(e.Pool.Dialect)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			e.logAudit(ctx, "update", table, toIDString(id), "failure")
			return nil, dbErr("crud: update "+table, err)
		}
	}

	for _, rel := range relations {
		children, present := nested[rel.FieldName]
		if !present {
			continue
		}
		if rel.Type == schemagen.BelongsTo {
			continue
		}
		del := dialect.Delete{Table: rel.ChildTable, Where: []dialect.Predicate{dialect.Eq(rel.ForeignKey, id)}}
		query, args := del.Build(e.Pool.Dialect)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			e.logAudit(ctx, "update", table, toIDString(id), "failure")
			return nil, dbErr("crud: replace relation "+rel.FieldName, err)
		}
		if err := e.createChildren(ctx, tx, rel, id, children, subject, now); err != nil {
			e.logAudit(ctx, "update", table, toIDString(id), "failure")
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Internal("crud: update "+table+": commit", err)
	}
	e.logAudit(ctx, "update", table, toIDString(id), "success")

	return e.Get(ctx, table, id)
}

// Delete implements `DELETE /collection/{id}`: cascades hasMany/hasOne children,
// leaves belongsTo targets untouched, then deletes the parent row. The
// cascade deletes and the parent delete run inside one transaction, so a
// failure partway through never leaves orphaned children behind.
func (e *Engine) Delete(ctx context.Context, table string, id any) error {
	if _, err := e.Get(ctx, table, id); err != nil {
		return err
	}

	tx, err := e.Pool.BeginTx(ctx)
	if err != nil {
		return apierrors.Internal("crud: delete "+table+": begin tx", err)
	}
	defer tx.Rollback()

	for _, rel := range e.relationsRootedAt(table) {
		if rel.Type == schemagen.BelongsTo {
			continue
		}
		del := dialect.Delete{Table: rel.ChildTable, Where: []dialect.Predicate{dialect.Eq(rel.ForeignKey, id)}}
		query, args := del.Build(e.Pool.Dialect)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			e.logAudit(ctx, "delete", table, toIDString(id), "failure")
			return dbErr("crud: cascade delete "+rel.FieldName, err)
		}
	}

	del := dialect.Delete{Table: table, Where: []dialect.Predicate{dialect.Eq(e.primaryKey(table), id)}}
	query, args := del.Build(e.Pool.Dialect)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		e.logAudit(ctx, "delete", table, toIDString(id), "failure")
		return dbErr("crud: delete "+table, err)
	}

	if err := tx.Commit(); err != nil {
		return apierrors.Internal("crud: delete "+table+": commit", err)
	}
	e.logAudit(ctx, "delete", table, toIDString(id), "success")
	return nil
}

// createChildren inserts one relation's peeled payload for a freshly
// known parent id, per relation type. ex is either the pool
// (uncommon, read-only callers never reach this) or the transaction the
// caller opened for the surrounding Create/Update.
func (e *Engine) createChildren(ctx context.Context, ex txExecutor, rel schemagen.RelationDefinition, parentID any, payload any, subject string, now time.Time) error {
	childSchema, ok := e.Tables[rel.ChildTable]
	if !ok {
		return apierrors.Internal("crud: unknown child table "+rel.ChildTable, nil)
	}

	switch rel.Type {
	case schemagen.BelongsTo:
		// The nested object is a reference to an existing row; nothing to
		// insert.
		return nil

	case schemagen.HasOne:
		child, ok := payload.(map[string]any)
		if !ok {
			return nil
		}
		child[rel.ForeignKey] = parentID
		return e.insertChild(ctx, ex, rel.ChildTable, childSchema, child, subject, now)

	case schemagen.HasMany:
		items, ok := payload.([]any)
		if !ok {
			return nil
		}
		for _, item := range items {
			child, ok := item.(map[string]any)
			if !ok {
				continue
			}
			child[rel.ForeignKey] = parentID
			if err := e.insertChild(ctx, ex, rel.ChildTable, childSchema, child, subject, now); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (e *Engine) insertChild(ctx context.Context, ex txExecutor, table string, schema schemagen.TableSchema, body map[string]any, subject string, now time.Time) error {
	cols, vals := writableColumns(schema, body)
	cols, vals = setAuditOnCreate(schema, cols, vals, subject, now)
	ins := dialect.Insert{Table: table, Columns: cols, Values: vals, PK: e.primaryKey(table)}
	query, args := ins.Build(e.Pool.Dialect)

	if e.Pool.Dialect.SupportsReturning() {
		_, err := ex.QueryRow(ctx, query, args...)
		if err != nil {
			return dbErr("crud: insert child "+table, err)
		}
		return nil
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return dbErr("crud: insert child "+table, err)
	}
	return nil
}

// attachRelations fills rows' relation fields in place with a single
// batched WHERE fk IN (...) fetch per RelationDefinition, deterministic
// by child primary key ascending.
func (e *Engine) attachRelations(ctx context.Context, table string, rows []Row) error {
	relations := e.relationsRootedAt(table)
	if len(relations) == 0 || len(rows) == 0 {
		return nil
	}
	pk := e.primaryKey(table)

	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[pk])
	}

	for _, rel := range relations {
		if rel.Type == schemagen.BelongsTo {
			// The belongsTo side references a parent row by local key; not
			// auto-loaded as a nested collection in this revision.
			continue
		}

		sel := dialect.Select{
			Table:   rel.ChildTable,
			Where:   []dialect.Predicate{dialect.In(rel.ForeignKey, ids)},
			OrderBy: e.Pool.Dialect.QuoteIdent(e.primaryKey(rel.ChildTable)),
		}
		query, args := sel.Build(e.Pool.Dialect)
		childRows, err := e.Pool.QueryRows(ctx, query, args...)
		if err != nil {
			return dbErr("crud: load relation "+rel.FieldName, err)
		}

		byParent := make(map[string][]Row)
		for _, cr := range childRows {
			key := toIDString(cr[rel.ForeignKey])
			byParent[key] = append(byParent[key], Row(cr))
		}
		for _, group := range byParent {
			sort.Slice(group, func(i, j int) bool {
				return toIDString(group[i][e.primaryKey(rel.ChildTable)]) < toIDString(group[j][e.primaryKey(rel.ChildTable)])
			})
		}

		for _, r := range rows {
			key := toIDString(r[pk])
			children := byParent[key]
			switch rel.Type {
			case schemagen.HasOne:
				if len(children) > 0 {
					r[rel.FieldName] = children[0]
				} else {
					r[rel.FieldName] = nil
				}
			default: // hasMany
				if children == nil {
					children = []Row{}
				}
				r[rel.FieldName] = children
			}
		}
	}
	return nil
}

// peel splits body into its scalar/writable fields and the nested
// relation payloads matching a RelationDefinition's FieldName.
func peel(body map[string]any, relations []schemagen.RelationDefinition) (nested map[string]any, scalar map[string]any) {
	nested = make(map[string]any)
	scalar = make(map[string]any, len(body))
	relNames := make(map[string]bool, len(relations))
	for _, r := range relations {
		relNames[r.FieldName] = true
	}
	for k, v := range body {
		if relNames[k] {
			nested[k] = v
			continue
		}
		scalar[k] = v
	}
	return nested, scalar
}

// writableColumns filters body to the table's non-autoField columns,
// preserving column declaration order for deterministic SQL text.
func writableColumns(schema schemagen.TableSchema, body map[string]any) ([]string, []any) {
	var cols []string
	var vals []any
	for _, c := range schema.Columns {
		if c.AutoField || c.AutoIncrement {
			continue
		}
		if v, ok := body[c.Name]; ok {
			cols = append(cols, c.Name)
			vals = append(vals, v)
		}
	}
	return cols, vals
}

// setAuditOnCreate overrides createdBy/updatedBy with subject when the
// table declares those columns, silently discarding any client-supplied
// value for them.
func setAuditOnCreate(schema schemagen.TableSchema, cols []string, vals []any, subject string, now time.Time) ([]string, []any) {
	hasColumn := func(name string) bool {
		for _, c := range schema.Columns {
			if c.Name == name {
				return true
			}
		}
		return false
	}
	set := func(name string, value any) {
		for i, c := range cols {
			if c == name {
				vals[i] = value
				return
			}
		}
		cols = append(cols, name)
		vals = append(vals, value)
	}
	if subject != "" {
		if hasColumn("createdBy") {
			set("createdBy", subject)
		}
		if hasColumn("updatedBy") {
			set("updatedBy", subject)
		}
	}
	// createdAt/updatedAt are always set to the current wall clock here,
	// whether or not the column has a database-side default (that
	// default is not used on insert); a client-supplied value for either
	// is overridden to keep audit fields authoritative.
	if hasColumn("createdAt") {
		set("createdAt", now)
	}
	if hasColumn("updatedAt") {
		set("updatedAt", now)
	}
	return cols, vals
}

func setAuditOnUpdate(schema schemagen.TableSchema, cols []string, vals []any, subject string, now time.Time) ([]string, []any) {
	hasColumn := func(name string) bool {
		for _, c := range schema.Columns {
			if c.Name == name {
				return true
			}
		}
		return false
	}
	// createdBy/createdAt are never modified on update.
	filtered := cols[:0:0]
	filteredVals := vals[:0:0]
	for i, c := range cols {
		if c == "createdBy" || c == "createdAt" {
			continue
		}
		filtered = append(filtered, c)
		filteredVals = append(filteredVals, vals[i])
	}
	cols, vals = filtered, filteredVals

	set := func(name string, value any) {
		for i, c := range cols {
			if c == name {
				vals[i] = value
				return
			}
		}
		cols = append(cols, name)
		vals = append(vals, value)
	}
	if subject != "" && hasColumn("updatedBy") {
		set("updatedBy", subject)
	}
	if hasColumn("updatedAt") {
		set("updatedAt", now)
	}
	return cols, vals
}

func toIDString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
