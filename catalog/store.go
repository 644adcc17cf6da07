package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/apifyhost/apify/infrastructure/errors"

	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/pkg/pgnotify"
)

// Store is the control plane's catalog persistence layer: one
// meta-database distinct from user datasources, with atomic CRUD and
// uniqueness invariants per resource kind.
type Store struct {
	Pool *dialect.Pool
	// Notify is the optional Postgres LISTEN/NOTIFY fast path (nil for
	// SQLite catalogs); when set, every write also publishes the new
	// global revision.
	Notify *pgnotify.Bus
}

// New constructs a Store, running the catalog's embedded migrations
// before returning.
func New(ctx context.Context, pool *dialect.Pool) (*Store, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func newID() string { return uuid.NewString() }

// ---- API ----------------------------------------------------------------

// UpsertAPI inserts a new API record, or updates the existing one when
// (Name, Version) already exists: re-submitting the same name and
// version is an update, not a conflict.
func (s *Store) UpsertAPI(ctx context.Context, api APIRecord) (APIRecord, error) {
	existing, err := s.getAPIByNameVersion(ctx, api.Name, api.Version)
	if err != nil && !isNotFound(err) {
		return APIRecord{}, err
	}

	rev, err := s.nextRevision(ctx)
	if err != nil {
		return APIRecord{}, err
	}

	now := time.Now().UTC()
	listenerNames := strings.Join(api.ListenerNames, ",")

	if existing != nil {
		api.ID = existing.ID
		api.CreatedAt = existing.CreatedAt
		api.Revision = rev
		api.UpdatedAt = now
		_, err := s.Pool.DB.ExecContext(ctx, s.rewrite(`
			UPDATE _meta_apis SET spec = ?, datasource_name = ?, listener_names = ?,
				revision = ?, updated_at = ? WHERE id = ?`),
			api.Spec, api.DatasourceName, listenerNames, api.Revision, api.UpdatedAt, api.ID)
		if err != nil {
			return APIRecord{}, apierrors.Internal("catalog: update api", err)
		}
	} else {
		api.ID = newID()
		api.Revision = rev
		api.CreatedAt = now
		api.UpdatedAt = now
		_, err := s.Pool.DB.ExecContext(ctx, s.rewrite(`
			INSERT INTO _meta_apis (id, name, version, spec, datasource_name, listener_names, revision, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			api.ID, api.Name, api.Version, api.Spec, api.DatasourceName, listenerNames, api.Revision, api.CreatedAt, api.UpdatedAt)
		if err != nil {
			return APIRecord{}, apierrors.Internal("catalog: insert api", err)
		}
	}

	s.notify(ctx, rev)
	return api, nil
}

func (s *Store) getAPIByNameVersion(ctx context.Context, name, version string) (*APIRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_apis WHERE name = ? AND version = ?`), name, version)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("api", name+"@"+version)
	}
	if err != nil {
		return nil, apierrors.Internal("catalog: get api", err)
	}
	api := rowToAPI(row)
	return &api, nil
}

// GetAPI fetches an API by ID.
func (s *Store) GetAPI(ctx context.Context, id string) (APIRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_apis WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return APIRecord{}, apierrors.NotFound("api", id)
	}
	if err != nil {
		return APIRecord{}, apierrors.Internal("catalog: get api", err)
	}
	return rowToAPI(row), nil
}

// ListAPIs returns every API record, ordered by name then version.
func (s *Store) ListAPIs(ctx context.Context) ([]APIRecord, error) {
	rows, err := s.Pool.QueryRows(ctx, `SELECT * FROM _meta_apis ORDER BY name, version`)
	if err != nil {
		return nil, apierrors.Internal("catalog: list apis", err)
	}
	out := make([]APIRecord, len(rows))
	for i, row := range rows {
		out[i] = rowToAPI(row)
	}
	return out, nil
}

// DeleteAPI removes an API by ID; its derived routes disappear on the
// next reconcile.
func (s *Store) DeleteAPI(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "_meta_apis", id, "api")
}

func rowToAPI(row dialect.RowMap) APIRecord {
	var names []string
	if raw, _ := row["listener_names"].(string); raw != "" {
		names = strings.Split(raw, ",")
	}
	return APIRecord{
		ID:             asString(row["id"]),
		Name:           asString(row["name"]),
		Version:        asString(row["version"]),
		Spec:           asString(row["spec"]),
		DatasourceName: asString(row["datasource_name"]),
		ListenerNames:  names,
		Revision:       asInt64(row["revision"]),
		CreatedAt:      asTime(row["created_at"]),
		UpdatedAt:      asTime(row["updated_at"]),
	}
}

// ---- Datasource -----------------------------------------------------------

// CreateDatasource inserts a new datasource, rejecting a duplicate name
// with Conflict.
func (s *Store) CreateDatasource(ctx context.Context, ds DatasourceRecord) (DatasourceRecord, error) {
	if _, err := s.getDatasourceByName(ctx, ds.Name); err == nil {
		return DatasourceRecord{}, apierrors.Conflict(fmt.Sprintf("datasource %q already exists", ds.Name))
	}

	rev, err := s.nextRevision(ctx)
	if err != nil {
		return DatasourceRecord{}, err
	}

	now := time.Now().UTC()
	ds.ID = newID()
	ds.Revision = rev
	ds.CreatedAt = now
	ds.UpdatedAt = now

	_, err = s.Pool.DB.ExecContext(ctx, s.rewrite(`
		INSERT INTO _meta_datasources (id, name, driver, config, max_pool_size, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ds.ID, ds.Name, ds.Driver, ds.Config, ds.MaxPoolSize, ds.Revision, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return DatasourceRecord{}, apierrors.Internal("catalog: insert datasource", err)
	}
	s.notify(ctx, rev)
	return ds, nil
}

func (s *Store) getDatasourceByName(ctx context.Context, name string) (*DatasourceRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_datasources WHERE name = ?`), name)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("datasource", name)
	}
	if err != nil {
		return nil, apierrors.Internal("catalog: get datasource", err)
	}
	ds := rowToDatasource(row)
	return &ds, nil
}

// GetDatasource fetches a datasource by ID.
func (s *Store) GetDatasource(ctx context.Context, id string) (DatasourceRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_datasources WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return DatasourceRecord{}, apierrors.NotFound("datasource", id)
	}
	if err != nil {
		return DatasourceRecord{}, apierrors.Internal("catalog: get datasource", err)
	}
	return rowToDatasource(row), nil
}

// GetDatasourceByName fetches a datasource by its unique name, the form
// the reconciler and the admin /data/* routes address datasources by.
func (s *Store) GetDatasourceByName(ctx context.Context, name string) (DatasourceRecord, error) {
	ds, err := s.getDatasourceByName(ctx, name)
	if err != nil {
		return DatasourceRecord{}, err
	}
	return *ds, nil
}

// ListDatasources returns every datasource record.
func (s *Store) ListDatasources(ctx context.Context) ([]DatasourceRecord, error) {
	rows, err := s.Pool.QueryRows(ctx, `SELECT * FROM _meta_datasources ORDER BY name`)
	if err != nil {
		return nil, apierrors.Internal("catalog: list datasources", err)
	}
	out := make([]DatasourceRecord, len(rows))
	for i, row := range rows {
		out[i] = rowToDatasource(row)
	}
	return out, nil
}

// UpdateDatasource replaces a datasource's connection parameters.
func (s *Store) UpdateDatasource(ctx context.Context, ds DatasourceRecord) (DatasourceRecord, error) {
	existing, err := s.GetDatasource(ctx, ds.ID)
	if err != nil {
		return DatasourceRecord{}, err
	}
	rev, err := s.nextRevision(ctx)
	if err != nil {
		return DatasourceRecord{}, err
	}
	ds.CreatedAt = existing.CreatedAt
	ds.Revision = rev
	ds.UpdatedAt = time.Now().UTC()

	_, err = s.Pool.DB.ExecContext(ctx, s.rewrite(`
		UPDATE _meta_datasources SET driver = ?, config = ?, max_pool_size = ?, revision = ?, updated_at = ?
		WHERE id = ?`),
		ds.Driver, ds.Config, ds.MaxPoolSize, ds.Revision, ds.UpdatedAt, ds.ID)
	if err != nil {
		return DatasourceRecord{}, apierrors.Internal("catalog: update datasource", err)
	}
	s.notify(ctx, rev)
	return ds, nil
}

// DeleteDatasource removes a datasource by ID. The caller (control
// plane) is responsible for tearing down its connection pool.
func (s *Store) DeleteDatasource(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "_meta_datasources", id, "datasource")
}

func rowToDatasource(row dialect.RowMap) DatasourceRecord {
	return DatasourceRecord{
		ID:          asString(row["id"]),
		Name:        asString(row["name"]),
		Driver:      asString(row["driver"]),
		Config:      asString(row["config"]),
		MaxPoolSize: int(asInt64(row["max_pool_size"])),
		Revision:    asInt64(row["revision"]),
		CreatedAt:   asTime(row["created_at"]),
		UpdatedAt:   asTime(row["updated_at"]),
	}
}

// ---- Listener -------------------------------------------------------------

// CreateListener inserts a new listener, enforcing uniqueness by Name
// and by (IP, Port) with the "0.0.0.0 conflicts with any other entry on
// the same port" rule.
func (s *Store) CreateListener(ctx context.Context, l ListenerRecord) (ListenerRecord, error) {
	if _, err := s.getListenerByName(ctx, l.Name); err == nil {
		return ListenerRecord{}, apierrors.Conflict(fmt.Sprintf("listener %q already exists", l.Name))
	}
	if err := s.checkPortConflict(ctx, l.IP, l.Port, ""); err != nil {
		return ListenerRecord{}, err
	}

	rev, err := s.nextRevision(ctx)
	if err != nil {
		return ListenerRecord{}, err
	}

	now := time.Now().UTC()
	l.ID = newID()
	l.Revision = rev
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Protocol == "" {
		l.Protocol = "HTTP"
	}

	_, err = s.Pool.DB.ExecContext(ctx, s.rewrite(`
		INSERT INTO _meta_listeners (id, name, ip, port, protocol, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.Name, l.IP, l.Port, l.Protocol, l.Revision, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return ListenerRecord{}, apierrors.Internal("catalog: insert listener", err)
	}
	s.notify(ctx, rev)
	return l, nil
}

// checkPortConflict enforces the listener uniqueness rule:
// (ip, port) must be unique, and "0.0.0.0" on a port conflicts with any
// other ip bound to that same port. excludeID is the listener being
// updated, or "" for a create.
func (s *Store) checkPortConflict(ctx context.Context, ip string, port int, excludeID string) error {
	rows, err := s.Pool.QueryRows(ctx, s.rewrite(`SELECT * FROM _meta_listeners WHERE port = ?`), port)
	if err != nil {
		return apierrors.Internal("catalog: check port conflict", err)
	}
	for _, row := range rows {
		other := rowToListener(row)
		if other.ID == excludeID {
			continue
		}
		if other.IP == ip || other.IP == "0.0.0.0" || ip == "0.0.0.0" {
			return apierrors.Conflict(fmt.Sprintf("listener port %d conflicts with existing listener %q", port, other.Name))
		}
	}
	return nil
}

func (s *Store) getListenerByName(ctx context.Context, name string) (*ListenerRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_listeners WHERE name = ?`), name)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("listener", name)
	}
	if err != nil {
		return nil, apierrors.Internal("catalog: get listener", err)
	}
	l := rowToListener(row)
	return &l, nil
}

// GetListenerByName fetches a listener by its unique name, the form
// config-file seeding and API listener bindings address listeners by.
func (s *Store) GetListenerByName(ctx context.Context, name string) (ListenerRecord, error) {
	l, err := s.getListenerByName(ctx, name)
	if err != nil {
		return ListenerRecord{}, err
	}
	return *l, nil
}

// GetListener fetches a listener by ID.
func (s *Store) GetListener(ctx context.Context, id string) (ListenerRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_listeners WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return ListenerRecord{}, apierrors.NotFound("listener", id)
	}
	if err != nil {
		return ListenerRecord{}, apierrors.Internal("catalog: get listener", err)
	}
	return rowToListener(row), nil
}

// ListListeners returns every listener record.
func (s *Store) ListListeners(ctx context.Context) ([]ListenerRecord, error) {
	rows, err := s.Pool.QueryRows(ctx, `SELECT * FROM _meta_listeners ORDER BY name`)
	if err != nil {
		return nil, apierrors.Internal("catalog: list listeners", err)
	}
	out := make([]ListenerRecord, len(rows))
	for i, row := range rows {
		out[i] = rowToListener(row)
	}
	return out, nil
}

// UpdateListener replaces a listener's ip/port, re-checking the same
// port-conflict rule CreateListener enforces.
func (s *Store) UpdateListener(ctx context.Context, l ListenerRecord) (ListenerRecord, error) {
	existing, err := s.GetListener(ctx, l.ID)
	if err != nil {
		return ListenerRecord{}, err
	}
	if err := s.checkPortConflict(ctx, l.IP, l.Port, l.ID); err != nil {
		return ListenerRecord{}, err
	}

	rev, err := s.nextRevision(ctx)
	if err != nil {
		return ListenerRecord{}, err
	}

	l.Name = existing.Name
	l.CreatedAt = existing.CreatedAt
	l.Revision = rev
	l.UpdatedAt = time.Now().UTC()
	if l.Protocol == "" {
		l.Protocol = existing.Protocol
	}

	_, err = s.Pool.DB.ExecContext(ctx, s.rewrite(`
		UPDATE _meta_listeners SET ip = ?, port = ?, protocol = ?, revision = ?, updated_at = ?
		WHERE id = ?`),
		l.IP, l.Port, l.Protocol, l.Revision, l.UpdatedAt, l.ID)
	if err != nil {
		return ListenerRecord{}, apierrors.Internal("catalog: update listener", err)
	}
	s.notify(ctx, rev)
	return l, nil
}

// DeleteListener removes a listener by ID; its socket is closed by the
// data-plane reconciler once no API references it.
func (s *Store) DeleteListener(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "_meta_listeners", id, "listener")
}

func rowToListener(row dialect.RowMap) ListenerRecord {
	return ListenerRecord{
		ID:        asString(row["id"]),
		Name:      asString(row["name"]),
		IP:        asString(row["ip"]),
		Port:      int(asInt64(row["port"])),
		Protocol:  asString(row["protocol"]),
		Revision:  asInt64(row["revision"]),
		CreatedAt: asTime(row["created_at"]),
		UpdatedAt: asTime(row["updated_at"]),
	}
}

// ---- AuthConfig -----------------------------------------------------------

// CreateAuthConfig inserts a new auth config, unique by Name.
func (s *Store) CreateAuthConfig(ctx context.Context, a AuthConfigRecord) (AuthConfigRecord, error) {
	if _, err := s.getAuthConfigByName(ctx, a.Name); err == nil {
		return AuthConfigRecord{}, apierrors.Conflict(fmt.Sprintf("auth config %q already exists", a.Name))
	}

	rev, err := s.nextRevision(ctx)
	if err != nil {
		return AuthConfigRecord{}, err
	}

	now := time.Now().UTC()
	a.ID = newID()
	a.Revision = rev
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = s.Pool.DB.ExecContext(ctx, s.rewrite(`
		INSERT INTO _meta_auth_configs (id, name, type, enabled, config, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.Type, s.Pool.Dialect.BoolLiteral(a.Enabled), a.Config, a.Revision, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return AuthConfigRecord{}, apierrors.Internal("catalog: insert auth config", err)
	}
	s.notify(ctx, rev)
	return a, nil
}

func (s *Store) getAuthConfigByName(ctx context.Context, name string) (*AuthConfigRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_auth_configs WHERE name = ?`), name)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("auth-config", name)
	}
	if err != nil {
		return nil, apierrors.Internal("catalog: get auth config", err)
	}
	a := rowToAuthConfig(row)
	return &a, nil
}

// GetAuthConfigByName fetches an auth config by its unique name.
func (s *Store) GetAuthConfigByName(ctx context.Context, name string) (AuthConfigRecord, error) {
	a, err := s.getAuthConfigByName(ctx, name)
	if err != nil {
		return AuthConfigRecord{}, err
	}
	return *a, nil
}

// GetAuthConfig fetches an auth config by ID.
func (s *Store) GetAuthConfig(ctx context.Context, id string) (AuthConfigRecord, error) {
	row, err := s.Pool.QueryRow(ctx, s.rewrite(`SELECT * FROM _meta_auth_configs WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return AuthConfigRecord{}, apierrors.NotFound("auth-config", id)
	}
	if err != nil {
		return AuthConfigRecord{}, apierrors.Internal("catalog: get auth config", err)
	}
	return rowToAuthConfig(row), nil
}

// ListAuthConfigs returns every auth config record.
func (s *Store) ListAuthConfigs(ctx context.Context) ([]AuthConfigRecord, error) {
	rows, err := s.Pool.QueryRows(ctx, `SELECT * FROM _meta_auth_configs ORDER BY name`)
	if err != nil {
		return nil, apierrors.Internal("catalog: list auth configs", err)
	}
	out := make([]AuthConfigRecord, len(rows))
	for i, row := range rows {
		out[i] = rowToAuthConfig(row)
	}
	return out, nil
}

// UpdateAuthConfig replaces an auth config's settings; hot-reload takes
// effect on the data plane's next reconcile.
func (s *Store) UpdateAuthConfig(ctx context.Context, a AuthConfigRecord) (AuthConfigRecord, error) {
	existing, err := s.GetAuthConfig(ctx, a.ID)
	if err != nil {
		return AuthConfigRecord{}, err
	}
	rev, err := s.nextRevision(ctx)
	if err != nil {
		return AuthConfigRecord{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.Revision = rev
	a.UpdatedAt = time.Now().UTC()

	_, err = s.Pool.DB.ExecContext(ctx, s.rewrite(`
		UPDATE _meta_auth_configs SET type = ?, enabled = ?, config = ?, revision = ?, updated_at = ?
		WHERE id = ?`),
		a.Type, s.Pool.Dialect.BoolLiteral(a.Enabled), a.Config, a.Revision, a.UpdatedAt, a.ID)
	if err != nil {
		return AuthConfigRecord{}, apierrors.Internal("catalog: update auth config", err)
	}
	s.notify(ctx, rev)
	return a, nil
}

// DeleteAuthConfig removes an auth config by ID.
func (s *Store) DeleteAuthConfig(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "_meta_auth_configs", id, "auth-config")
}

func rowToAuthConfig(row dialect.RowMap) AuthConfigRecord {
	return AuthConfigRecord{
		ID:        asString(row["id"]),
		Name:      asString(row["name"]),
		Type:      asString(row["type"]),
		Enabled:   asBool(row["enabled"]),
		Config:    asString(row["config"]),
		Revision:  asInt64(row["revision"]),
		CreatedAt: asTime(row["created_at"]),
		UpdatedAt: asTime(row["updated_at"]),
	}
}

// ---- Shared helpers --------------------------------------------------------

func (s *Store) deleteByID(ctx context.Context, table, id, resource string) error {
	result, err := s.Pool.DB.ExecContext(ctx, s.rewrite(`DELETE FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return apierrors.Internal("catalog: delete "+resource, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apierrors.NotFound(resource, id)
	}
	// A delete leaves no row to carry a new revision, so the counter is
	// advanced directly: MaxRevision must change for the reconciler to
	// drop the deleted resource's derived state.
	rev, err := s.nextRevision(ctx)
	if err != nil {
		return err
	}
	s.notify(ctx, rev)
	return nil
}

// nextRevision advances the catalog-wide revision counter and returns
// the new value. Every write — insert, update, delete — claims one tick,
// which is what makes MaxRevision change on mutations the per-row
// revision column alone would hide: updating a row whose revision sat
// below the global maximum, or deleting any row.
func (s *Store) nextRevision(ctx context.Context) (int64, error) {
	if _, err := s.Pool.DB.ExecContext(ctx, `UPDATE _meta_revision SET revision = revision + 1`); err != nil {
		return 0, apierrors.Internal("catalog: advance revision", err)
	}
	row, err := s.Pool.QueryRow(ctx, `SELECT revision FROM _meta_revision`)
	if err != nil {
		return 0, apierrors.Internal("catalog: read revision", err)
	}
	return asInt64(row["revision"]), nil
}

// MaxRevision returns the catalog's current revision — the reconciler's
// change-detection signal. The counter is bumped on
// every write, so it is always at least the maximum revision stored on
// any resource row.
func (s *Store) MaxRevision(ctx context.Context) (int64, error) {
	row, err := s.Pool.QueryRow(ctx, `SELECT revision FROM _meta_revision`)
	if err != nil {
		return 0, apierrors.Internal("catalog: max revision", err)
	}
	return asInt64(row["revision"]), nil
}

// Snapshot reads the full catalog.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	revision, err := s.MaxRevision(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	apis, err := s.ListAPIs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	datasources, err := s.ListDatasources(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	listeners, err := s.ListListeners(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	auth, err := s.ListAuthConfigs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Revision: revision, APIs: apis, Datasources: datasources, Listeners: listeners, AuthConfigs: auth}, nil
}

// notify publishes rev through the optional Postgres fast path; failures
// are swallowed since the poll loop remains the source of truth.
func (s *Store) notify(ctx context.Context, rev int64) {
	if s.Notify == nil {
		return
	}
	_ = s.Notify.NotifyRevision(ctx, rev)
}

// rewrite translates the `?`-placeholder SQL written above into the
// pool's dialect (PostgreSQL needs $1, $2,...).
func (s *Store) rewrite(query string) string {
	if s.Pool.Dialect.Driver() != dialect.Postgres {
		return query
	}
	var sb strings.Builder
	n := 1
	for _, r := range query {
		if r == '?' {
			sb.WriteString(s.Pool.Dialect.Placeholder(n))
			n++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isNotFound(err error) bool {
	se := apierrors.GetServiceError(err)
	return se != nil && se.Code == apierrors.ErrCodeNotFound
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		var n int64
		fmt.Sscanf(string(t), "%d", &n)
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case []byte:
		return string(t) == "1" || strings.EqualFold(string(t), "true")
	default:
		return false
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.RFC3339, t)
		return parsed
	default:
		return time.Time{}
	}
}
