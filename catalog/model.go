// Package catalog is the control plane's Store: the persistent record
// of APIs, Datasources, Listeners, and AuthConfigs that the data
// plane's reconciler polls. Raw parameterized SQL with UUID primary
// keys; every row carries a monotonically increasing revision drawn
// from a catalog-wide counter.
package catalog

import "time"

// APIRecord is the API resource: a named, versioned OpenAPI
// document plus the datasource/listener bindings the admin supplied.
// Unique by (Name, Version); resubmitting the same pair is an update,
// not a conflict.
type APIRecord struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Version        string    `json:"version" db:"version"`
	Spec           string    `json:"spec" db:"spec"` // raw OpenAPI document text (JSON or YAML)
	DatasourceName string    `json:"datasourceName" db:"datasource_name"`
	ListenerNames  []string  `json:"listenerNames" db:"-"`
	Revision       int64     `json:"revision" db:"revision"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// DatasourceRecord is a Datasource: connection parameters keyed
// by driver, unique by Name. Config holds the driver-specific
// connection string/parameters serialized as JSON (DSN, host, etc.).
type DatasourceRecord struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Driver      string    `json:"driver" db:"driver"` // "sqlite" | "postgres"
	Config      string    `json:"config" db:"config"`
	MaxPoolSize int       `json:"maxPoolSize" db:"max_pool_size"`
	Revision    int64     `json:"revision" db:"revision"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// ListenerRecord is a Listener. Unique by Name; also unique by
// (IP, Port), with the additional rule that "0.0.0.0" conflicts with
// any other entry bound to the same port — enforced in
// Store.CreateListener/UpdateListener, not by a single SQL constraint.
type ListenerRecord struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	IP        string    `json:"ip" db:"ip"`
	Port      int       `json:"port" db:"port"`
	Protocol  string    `json:"protocol" db:"protocol"` // always "HTTP" in this revision
	Revision  int64     `json:"revision" db:"revision"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// AuthConfigRecord is an AuthConfig, unique by Name.
type AuthConfigRecord struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"type"` // "api-key" | "oidc"
	Enabled   bool      `json:"enabled" db:"enabled"`
	Config    string    `json:"config" db:"config"` // JSON-encoded type-specific settings
	Revision  int64     `json:"revision" db:"revision"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Snapshot is the full catalog read the reconciler acts on.
type Snapshot struct {
	Revision    int64
	APIs        []APIRecord
	Datasources []DatasourceRecord
	Listeners   []ListenerRecord
	AuthConfigs []AuthConfigRecord
}
