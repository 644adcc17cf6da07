package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/infrastructure/config"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/schemagen"
)

// seededDatasourceConfig mirrors the JSON shape the data plane's
// PoolCache parses out of DatasourceRecord.Config.
type seededDatasourceConfig struct {
	DSN string `json:"dsn"`
}

// seededAPIKeyConfig and seededOIDCConfig mirror the JSON shapes the
// data plane's buildAuthenticator parses out of AuthConfigRecord.Config.
type seededAPIKeyConfig struct {
	HeaderName string            `json:"headerName,omitempty"`
	QueryName  string            `json:"queryName,omitempty"`
	Consumers  map[string]string `json:"consumers,omitempty"`
}

type seededOIDCConfig struct {
	Issuer           string `json:"issuer,omitempty"`
	Audience         string `json:"audience,omitempty"`
	JWKSURL          string `json:"jwksUrl,omitempty"`
	JWKSTTLSeconds   int    `json:"jwksTtlSeconds,omitempty"`
	IntrospectionURL string `json:"introspectionUrl,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
}

// seedCatalog materializes the config file's declarative resource
// sections into the catalog before either plane starts, so a YAML-only
// deployment serves traffic without a single admin API call. Existing
// resources are updated in place only when their settings actually
// changed, so a plain restart
// does not bump the catalog revision and force a pointless reconcile.
// A broken API entry (unreadable file, unparsable document) degrades
// that API only, matching the reconciler's own per-API failure policy.
func seedCatalog(ctx context.Context, store *catalog.Store, cfg *config.File, logger *logging.Logger) error {
	for name, ds := range cfg.Datasource {
		raw, err := json.Marshal(seededDatasourceConfig{DSN: ds.DSN})
		if err != nil {
			return fmt.Errorf("seed datasource %s: %w", name, err)
		}
		existing, err := store.GetDatasourceByName(ctx, name)
		if err != nil {
			if _, err := store.CreateDatasource(ctx, catalog.DatasourceRecord{
				Name: name, Driver: ds.Driver, Config: string(raw), MaxPoolSize: ds.MaxPoolSize,
			}); err != nil {
				return fmt.Errorf("seed datasource %s: %w", name, err)
			}
			continue
		}
		if existing.Driver == ds.Driver && existing.Config == string(raw) && existing.MaxPoolSize == ds.MaxPoolSize {
			continue
		}
		existing.Driver = ds.Driver
		existing.Config = string(raw)
		existing.MaxPoolSize = ds.MaxPoolSize
		if _, err := store.UpdateDatasource(ctx, existing); err != nil {
			return fmt.Errorf("seed datasource %s: %w", name, err)
		}
	}

	for _, l := range cfg.Listeners {
		existing, err := store.GetListenerByName(ctx, l.Name)
		if err != nil {
			if _, err := store.CreateListener(ctx, catalog.ListenerRecord{
				Name: l.Name, IP: l.IP, Port: l.Port, Protocol: "HTTP",
			}); err != nil {
				return fmt.Errorf("seed listener %s: %w", l.Name, err)
			}
			continue
		}
		if existing.IP == l.IP && existing.Port == l.Port {
			continue
		}
		existing.IP = l.IP
		existing.Port = l.Port
		if _, err := store.UpdateListener(ctx, existing); err != nil {
			return fmt.Errorf("seed listener %s: %w", l.Name, err)
		}
	}

	for _, a := range cfg.Auth {
		raw, err := marshalAuthConfig(a)
		if err != nil {
			return fmt.Errorf("seed auth config %s: %w", a.Name, err)
		}
		enabled := a.Enabled == nil || *a.Enabled
		existing, err := store.GetAuthConfigByName(ctx, a.Name)
		if err != nil {
			if _, err := store.CreateAuthConfig(ctx, catalog.AuthConfigRecord{
				Name: a.Name, Type: a.Type, Enabled: enabled, Config: raw,
			}); err != nil {
				return fmt.Errorf("seed auth config %s: %w", a.Name, err)
			}
			continue
		}
		if existing.Type == a.Type && existing.Enabled == enabled && existing.Config == raw {
			continue
		}
		existing.Type = a.Type
		existing.Enabled = enabled
		existing.Config = raw
		if _, err := store.UpdateAuthConfig(ctx, existing); err != nil {
			return fmt.Errorf("seed auth config %s: %w", a.Name, err)
		}
	}

	if len(cfg.APIs) == 0 {
		return nil
	}
	known, err := store.ListAPIs(ctx)
	if err != nil {
		return err
	}
	byNameVersion := make(map[string]catalog.APIRecord, len(known))
	for _, api := range known {
		byNameVersion[api.Name+"@"+api.Version] = api
	}

	for _, entry := range cfg.APIs {
		raw, err := os.ReadFile(entry.Path)
		if err != nil {
			logger.Warn(ctx, "skipping configured api", map[string]interface{}{"path": entry.Path, "error": err.Error()})
			continue
		}
		doc, err := schemagen.ParseDocument(raw)
		if err != nil || doc.Info.Title == "" {
			logger.Warn(ctx, "skipping configured api: unparsable OpenAPI document", map[string]interface{}{"path": entry.Path})
			continue
		}
		version := doc.Info.Version
		if version == "" {
			version = "0.0.0"
		}

		if existing, ok := byNameVersion[doc.Info.Title+"@"+version]; ok {
			if existing.Spec == string(raw) && existing.DatasourceName == entry.Datasource && equalStrings(existing.ListenerNames, entry.Listeners) {
				continue
			}
		}
		if _, err := store.UpsertAPI(ctx, catalog.APIRecord{
			Name:           doc.Info.Title,
			Version:        version,
			Spec:           string(raw),
			DatasourceName: entry.Datasource,
			ListenerNames:  entry.Listeners,
		}); err != nil {
			logger.Warn(ctx, "skipping configured api", map[string]interface{}{"path": entry.Path, "error": err.Error()})
		}
	}
	return nil
}

func marshalAuthConfig(a config.AuthConfig) (string, error) {
	switch a.Type {
	case "api-key":
		spec := seededAPIKeyConfig{}
		if a.ApiKey != nil {
			spec = seededAPIKeyConfig{HeaderName: a.ApiKey.HeaderName, QueryName: a.ApiKey.QueryName, Consumers: a.ApiKey.Consumers}
		}
		raw, err := json.Marshal(spec)
		return string(raw), err
	case "oidc":
		spec := seededOIDCConfig{}
		if a.OIDC != nil {
			spec = seededOIDCConfig{
				Issuer:           a.OIDC.Issuer,
				Audience:         a.OIDC.Audience,
				JWKSURL:          a.OIDC.JWKSURL,
				JWKSTTLSeconds:   a.OIDC.JWKSTTLSeconds,
				IntrospectionURL: a.OIDC.IntrospectionURL,
				ClientID:         a.OIDC.ClientID,
				ClientSecret:     a.OIDC.ClientSecret,
			}
		}
		raw, err := json.Marshal(spec)
		return string(raw), err
	default:
		return "", fmt.Errorf("unknown auth config type %q", a.Type)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
