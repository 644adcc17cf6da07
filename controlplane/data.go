package controlplane

import (
	"context"
	"net/http"
	"sort"

	"github.com/apifyhost/apify/dialect"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// resolvePool resolves the named datasource to its live connection
// pool, opening it on first use exactly like the data plane's own
// reconciler.
func (s *Server) resolvePool(r *http.Request) (*dialect.Pool, error) {
	ds, err := s.store.GetDatasourceByName(r.Context(), pathVar(r, "datasource"))
	if err != nil {
		return nil, err
	}
	return s.pools.Get(r.Context(), ds)
}

// primaryKeyOf returns the table's primary-key column name, defaulting
// to "id" the way the CRUD engine does when introspection finds none.
func primaryKeyOf(meta *dialect.TableMeta) string {
	for _, c := range meta.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return "id"
}

// listTables implements `GET /data/{datasource}/tables`.
func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	pool, err := s.resolvePool(r)
	if err != nil {
		writeError(w, err)
		return
	}
	names, err := pool.ListTables(r.Context())
	if err != nil {
		writeError(w, apierrors.Internal("data: list tables", err))
		return
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

// describeTable implements `GET /data/{datasource}/schema/{table}`.
func (s *Server) describeTable(w http.ResponseWriter, r *http.Request) {
	pool, err := s.resolvePool(r)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := pool.DescribeTable(r.Context(), pathVar(r, "table"))
	if err != nil {
		writeError(w, apierrors.Internal("data: describe table", err))
		return
	}
	if !meta.HasTable() {
		writeError(w, apierrors.NotFound("table", pathVar(r, "table")))
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// queryRequest is the body of `POST /data/{datasource}/{table}/query`:
// flat equality filters plus the same limit/offset reserved names the
// end-user LIST operation honors.
type queryRequest struct {
	Filters map[string]any `json:"filters"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

func (s *Server) queryTable(w http.ResponseWriter, r *http.Request) {
	pool, err := s.resolvePool(r)
	if err != nil {
		writeError(w, err)
		return
	}
	table := pathVar(r, "table")

	var req queryRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
			return
		}
	}

	sel := dialect.Select{Table: table, Limit: req.Limit, Offset: req.Offset}
	for col, val := range req.Filters {
		sel.Where = append(sel.Where, dialect.Eq(col, val))
	}
	query, args := sel.Build(pool.Dialect)

	rows, err := pool.QueryRows(r.Context(), query, args...)
	if err != nil {
		writeError(w, apierrors.Internal("data: query "+table, err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// insertRow implements `POST /data/{datasource}/{table}`: a raw insert
// of the submitted column map, with primary-key retrieval following the
// same RETURNING/last-insert-id split as the CRUD engine's Create.
func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) {
	pool, err := s.resolvePool(r)
	if err != nil {
		writeError(w, err)
		return
	}
	table := pathVar(r, "table")

	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	meta, err := pool.DescribeTable(r.Context(), table)
	if err != nil || !meta.HasTable() {
		writeError(w, apierrors.NotFound("table", table))
		return
	}
	pk := primaryKeyOf(meta)

	cols := make([]string, 0, len(body))
	vals := make([]any, 0, len(body))
	for k, v := range body {
		cols = append(cols, k)
		vals = append(vals, v)
	}

	ins := dialect.Insert{Table: table, Columns: cols, Values: vals, PK: pk}
	query, args := ins.Build(pool.Dialect)

	var newID any
	if pool.Dialect.SupportsReturning() {
		row, err := pool.QueryRow(r.Context(), query, args...)
		if err != nil {
			writeError(w, apierrors.Internal("data: insert "+table, err))
			return
		}
		newID = row[pk]
	} else {
		result, err := pool.DB.ExecContext(r.Context(), query, args...)
		if err != nil {
			writeError(w, apierrors.Internal("data: insert "+table, err))
			return
		}
		id, err := result.LastInsertId()
		if err != nil {
			writeError(w, apierrors.Internal("data: insert "+table+": read last insert id", err))
			return
		}
		newID = id
	}

	if row, err := queryByPK(r.Context(), pool, table, pk, newID); err == nil {
		writeJSON(w, http.StatusCreated, row)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{pk: newID})
}

// updateRow implements `PUT /data/{datasource}/{table}/{id}`.
func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	pool, err := s.resolvePool(r)
	if err != nil {
		writeError(w, err)
		return
	}
	table := pathVar(r, "table")
	id := pathVar(r, "id")

	meta, err := pool.DescribeTable(r.Context(), table)
	if err != nil || !meta.HasTable() {
		writeError(w, apierrors.NotFound("table", table))
		return
	}
	pk := primaryKeyOf(meta)

	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	cols := make([]string, 0, len(body))
	vals := make([]any, 0, len(body))
	for k, v := range body {
		cols = append(cols, k)
		vals = append(vals, v)
	}

	upd := dialect.Update{Table: table, Columns: cols, Values: vals, Where: []dialect.Predicate{dialect.Eq(pk, id)}}
	query, args := upd.Build(pool.Dialect)
	result, err := pool.DB.ExecContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, apierrors.Internal("data: update "+table, err))
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		writeError(w, apierrors.NotFound(table, id))
		return
	}

	row, err := queryByPK(r.Context(), pool, table, pk, id)
	if err != nil {
		writeError(w, apierrors.Internal("data: read back "+table, err))
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// deleteRow implements `DELETE /data/{datasource}/{table}/{id}`. No
// cascade: this surface bypasses the CRUD engine's relation model
// entirely.
func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	pool, err := s.resolvePool(r)
	if err != nil {
		writeError(w, err)
		return
	}
	table := pathVar(r, "table")
	id := pathVar(r, "id")

	meta, err := pool.DescribeTable(r.Context(), table)
	if err != nil || !meta.HasTable() {
		writeError(w, apierrors.NotFound("table", table))
		return
	}
	pk := primaryKeyOf(meta)

	del := dialect.Delete{Table: table, Where: []dialect.Predicate{dialect.Eq(pk, id)}}
	query, args := del.Build(pool.Dialect)
	result, err := pool.DB.ExecContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, apierrors.Internal("data: delete "+table, err))
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		writeError(w, apierrors.NotFound(table, id))
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// queryByPK reads back a single row by primary-key value, parameterized
// through the same neutral Select AST the CRUD engine builds queries
// with (no hand-formatted SQL, no string-embedded values).
func queryByPK(ctx context.Context, pool *dialect.Pool, table, pk string, value any) (dialect.RowMap, error) {
	sel := dialect.Select{Table: table, Where: []dialect.Predicate{dialect.Eq(pk, value)}}
	query, args := sel.Build(pool.Dialect)
	return pool.QueryRow(ctx, query, args...)
}
