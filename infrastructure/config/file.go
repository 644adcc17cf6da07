package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the gateway's YAML configuration document: the top-level
// keys `control-plane`, `listeners`, `datasource`, `auth`, `apis`,
// `log_level`, `modules`. go-playground/validator/v10 checks the
// struct-tag constraints below after parse; this is the one place in
// the repo that library validates, since everywhere else (the per-
// request validator) works against schemas only known at
// reconcile time, not compile-time struct tags.
type File struct {
	ControlPlane ControlPlaneConfig    `yaml:"control-plane" validate:"required"`
	Listeners    []ListenerConfig      `yaml:"listeners" validate:"dive"`
	Datasource   map[string]Datasource `yaml:"datasource" validate:"dive"`
	Auth         []AuthConfig          `yaml:"auth" validate:"dive"`
	APIs         []APIConfig           `yaml:"apis" validate:"dive"`
	LogLevel     string                `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	Modules      ModulesConfig         `yaml:"modules"`
}

// ControlPlaneConfig is the `control-plane` top-level key.
type ControlPlaneConfig struct {
	Listen   ListenAddr `yaml:"listen" validate:"required"`
	Database string     `yaml:"database" validate:"required"`
	AdminKey string     `yaml:"admin_key"`
}

// ListenAddr is a bare {ip, port} pair, shared by control-plane.listen
// and each listener entry.
type ListenAddr struct {
	IP   string `yaml:"ip" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

// ListenerConfig is one entry of the top-level `listeners` list.
type ListenerConfig struct {
	Name string `yaml:"name" validate:"required"`
	IP   string `yaml:"ip" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

// Datasource is one value of the `datasource` name→connection mapping.
type Datasource struct {
	Driver      string `yaml:"driver" validate:"required,oneof=sqlite postgres"`
	DSN         string `yaml:"dsn" validate:"required"`
	MaxPoolSize int    `yaml:"max_pool_size" validate:"omitempty,min=1"`
}

// AuthConfig is one entry of the top-level `auth` list.
type AuthConfig struct {
	Name    string         `yaml:"name" validate:"required"`
	Type    string         `yaml:"type" validate:"required,oneof=api-key oidc"`
	Enabled *bool          `yaml:"enabled"`
	ApiKey  *ApiKeySpec    `yaml:"api_key,omitempty"`
	OIDC    *OIDCSpec      `yaml:"oidc,omitempty"`
}

// ApiKeySpec configures an api-key AuthConfig entry.
type ApiKeySpec struct {
	HeaderName string            `yaml:"header_name"`
	QueryName  string            `yaml:"query_name"`
	Consumers  map[string]string `yaml:"consumers"`
}

// OIDCSpec configures an oidc AuthConfig entry.
type OIDCSpec struct {
	Issuer           string `yaml:"issuer" validate:"required"`
	Audience         string `yaml:"audience"`
	JWKSURL          string `yaml:"jwks_url"`
	JWKSTTLSeconds   int    `yaml:"jwks_ttl_seconds"`
	IntrospectionURL string `yaml:"introspection_url"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
}

// APIConfig is one entry of the top-level `apis` list: where to load the
// OpenAPI document from, which listeners serve it, and its datasource.
type APIConfig struct {
	Path       string   `yaml:"path" validate:"required"`
	Listeners  []string `yaml:"listeners" validate:"required,min=1"`
	Datasource string   `yaml:"datasource" validate:"required"`
}

// ModulesConfig is the `modules` object: metrics/tracing/openapi_docs
// toggles.
type ModulesConfig struct {
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	OpenAPIDocs OpenAPIDocsConfig `yaml:"openapi_docs"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type OpenAPIDocsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

var fileValidator = validator.New()

// Load reads and validates the YAML config file at path, the entry point
// named by cmd/apify's `--config` flag.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := fileValidator.Struct(&f); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}

	return &f, nil
}
