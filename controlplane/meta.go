package controlplane

import (
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/apifyhost/apify/catalog"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// bulkAPIResult reports one entry's outcome in a `POST /_meta/apis` or
// `POST /_meta/import` batch: callers need to know which of several
// submitted resources failed without the whole batch aborting.
type bulkAPIResult struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"` // "created" | "updated" | "error"
	Error   string `json:"error,omitempty"`
}

// exportAPIs is the read-side counterpart to the bulk-ingestion
// write. It returns every catalog API record exactly as `GET /apis`
// does; those records also carry id, revision and timestamp fields,
// which `POST /_meta/apis` rejects as unknown fields.
func (s *Server) exportAPIs(w http.ResponseWriter, r *http.Request) {
	s.listAPIs(w, r)
}

// bulkAPIs implements `POST /_meta/apis`: a JSON array of
// apiRequest entries, each upserted independently.
func (s *Server) bulkAPIs(w http.ResponseWriter, r *http.Request) {
	var reqs []apiRequest
	if err := decodeJSON(r, &reqs); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	results := make([]bulkAPIResult, 0, len(reqs))
	for _, req := range reqs {
		if req.Name == "" || req.Version == "" || len(req.Spec) == 0 {
			results = append(results, bulkAPIResult{Name: req.Name, Version: req.Version, Status: "error", Error: "name, version, and spec are required"})
			continue
		}
		api, err := s.store.UpsertAPI(r.Context(), catalog.APIRecord{
			Name:           req.Name,
			Version:        req.Version,
			Spec:           string(req.Spec),
			DatasourceName: req.DatasourceName,
			ListenerNames:  req.ListenerNames,
		})
		if err != nil {
			results = append(results, bulkAPIResult{Name: req.Name, Version: req.Version, Status: "error", Error: err.Error()})
			continue
		}
		status := "updated"
		if api.CreatedAt.Equal(api.UpdatedAt) {
			status = "created"
		}
		results = append(results, bulkAPIResult{Name: api.Name, Version: api.Version, Status: status})
	}
	writeJSON(w, http.StatusOK, results)
}

// importDatasource/importListener/importAuth/importAPI mirror
// infrastructure/config's YAML File shape, with one deliberate deviation: apis
// carry their OpenAPI document inline (`spec`) rather than a filesystem
// `path`, since the admin API has no access to the caller's disk. auth
// carries a single generic `config` map rather the config file's
// split ApiKeySpec/OIDCSpec structs, matching the admin /auth CRUD
// routes' own raw-passthrough convention (see authConfigRequest).
type importDatasource struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	MaxPoolSize int    `yaml:"max_pool_size"`
}

type importListener struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type importAuth struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Enabled *bool          `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

type importAPI struct {
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	Spec           any      `yaml:"spec"`
	DatasourceName string   `yaml:"datasourceName"`
	ListenerNames  []string `yaml:"listenerNames"`
}

type importPayload struct {
	Datasource map[string]importDatasource `yaml:"datasource"`
	Listeners  []importListener            `yaml:"listeners"`
	Auth       []importAuth                `yaml:"auth"`
	APIs       []importAPI                 `yaml:"apis"`
}

type importResult struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// bulkImport implements `POST /_meta/import`: the YAML config
// document shape, decoded with gopkg.in/yaml.v3 (the same library
// infrastructure/config.Load uses) since yaml.v3 accepts a JSON body as
// a strict subset, so one decoder serves either content type.
func (s *Server) bulkImport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload importPayload
	dec := yaml.NewDecoder(r.Body)
	if err := dec.Decode(&payload); err != nil {
		writeError(w, apierrors.BadRequest("invalid import payload: "+err.Error()))
		return
	}

	var results []importResult
	ctx := r.Context()

	for name, ds := range payload.Datasource {
		cfg, _ := json.Marshal(datasourceConfig{DSN: ds.DSN})
		if _, err := s.store.CreateDatasource(ctx, catalog.DatasourceRecord{
			Name: name, Driver: ds.Driver, Config: string(cfg), MaxPoolSize: ds.MaxPoolSize,
		}); err != nil {
			results = append(results, importResult{Kind: "datasource", Name: name, Status: "error", Error: err.Error()})
			continue
		}
		results = append(results, importResult{Kind: "datasource", Name: name, Status: "created"})
	}

	for _, l := range payload.Listeners {
		if _, err := s.store.CreateListener(ctx, catalog.ListenerRecord{Name: l.Name, IP: l.IP, Port: l.Port, Protocol: "HTTP"}); err != nil {
			results = append(results, importResult{Kind: "listener", Name: l.Name, Status: "error", Error: err.Error()})
			continue
		}
		results = append(results, importResult{Kind: "listener", Name: l.Name, Status: "created"})
	}

	for _, a := range payload.Auth {
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		cfg, _ := json.Marshal(a.Config)
		if _, err := s.store.CreateAuthConfig(ctx, catalog.AuthConfigRecord{Name: a.Name, Type: a.Type, Enabled: enabled, Config: string(cfg)}); err != nil {
			results = append(results, importResult{Kind: "auth", Name: a.Name, Status: "error", Error: err.Error()})
			continue
		}
		results = append(results, importResult{Kind: "auth", Name: a.Name, Status: "created"})
	}

	for _, api := range payload.APIs {
		specJSON, err := json.Marshal(api.Spec)
		if err != nil {
			results = append(results, importResult{Kind: "api", Name: api.Name, Status: "error", Error: err.Error()})
			continue
		}
		rec, err := s.store.UpsertAPI(ctx, catalog.APIRecord{
			Name: api.Name, Version: api.Version, Spec: string(specJSON),
			DatasourceName: api.DatasourceName, ListenerNames: api.ListenerNames,
		})
		if err != nil {
			results = append(results, importResult{Kind: "api", Name: api.Name, Status: "error", Error: err.Error()})
			continue
		}
		status := "updated"
		if rec.CreatedAt.Equal(rec.UpdatedAt) {
			status = "created"
		}
		results = append(results, importResult{Kind: "api", Name: api.Name, Status: status})
	}

	writeJSON(w, http.StatusOK, results)
}
