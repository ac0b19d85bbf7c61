// Package config derives the effective runtime configuration from
// environment variables, with an optional YAML overlay file. The resulting
// record is immutable for the lifetime of the process.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/urlbuild"
)

// Strategy selects how scopes map to databases.
type Strategy string

const (
	// StrategyShared keeps every tenant in one database, isolated by row
	// predicates.
	StrategyShared Strategy = "shared"
	// StrategyPerOrg gives each organization its own database URL.
	StrategyPerOrg Strategy = "per_org"
)

// Column names injected by the rewriter.
const (
	DefaultTenantColumn = "tenant_id"
	DefaultAppColumn    = "app_id"
)

// DefaultOrgCacheTTL is the resolver cache lifetime when
// VOILA_ORG_CACHE_TTL is unset.
const DefaultOrgCacheTTL = 5 * time.Minute

// Config is the effective runtime configuration.
type Config struct {
	// BaseURL is the fallback/template database URL. May contain {org}.
	BaseURL string
	// OrgsEnabled activates per-organization database scoping.
	OrgsEnabled bool
	// TenantsEnabled activates row-level tenant scoping.
	TenantsEnabled bool
	// VectorsEnabled exposes the vector-operations surface on handles.
	VectorsEnabled bool
	// AppsEnabled activates app-column isolation; requires AppID.
	AppsEnabled bool
	// AppID identifies this application for app-column isolation.
	AppID string
	// Environment is "development" or "production".
	Environment string
	// OrgCacheTTL bounds how long resolved org URLs are cached.
	OrgCacheTTL time.Duration
	// EmergencyURL overrides the last-resort URL template.
	EmergencyURL string
	// RedisURL enables the shared resolver cache tier when set.
	RedisURL string
	// AdapterKind overrides scheme-based adapter selection. Normally empty.
	AdapterKind string
	// TenantColumn is the injected tenant column name.
	TenantColumn string
	// AppColumn is the injected app column name when AppsEnabled.
	AppColumn string
}

// Strategy derives the isolation strategy from the org flag.
func (c *Config) Strategy() Strategy {
	if c.OrgsEnabled {
		return StrategyPerOrg
	}
	return StrategyShared
}

// Development reports whether debug logging and schema-shape warnings are
// enabled.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// Scheme returns the URL scheme of BaseURL.
func (c *Config) Scheme() (string, error) {
	return urlbuild.Scheme(c.BaseURL)
}

// Validate checks the configuration for coherence.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return apierr.Configuration("DATABASE_URL is required")
	}
	if c.AdapterKind == "" {
		if _, err := c.Scheme(); err != nil {
			return err
		}
	}
	if c.OrgCacheTTL <= 0 {
		return apierr.Configuration("org cache TTL must be positive, got %s", c.OrgCacheTTL)
	}
	if c.AppsEnabled && c.AppID == "" {
		return apierr.Configuration("multi-app isolation requires VOILA_APP_ID")
	}
	return nil
}

// FromEnv reads the configuration from the environment. When VOILA_CONFIG
// names a YAML file it is applied first and individual environment
// variables override it.
func FromEnv() (*Config, error) {
	c := &Config{
		Environment:  "production",
		OrgCacheTTL:  DefaultOrgCacheTTL,
		TenantColumn: DefaultTenantColumn,
	}

	if path := os.Getenv("VOILA_CONFIG"); path != "" {
		if err := applyFile(path, c); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(c); err != nil {
		return nil, err
	}

	if c.AppID != "" {
		c.AppsEnabled = true
	}
	if c.AppsEnabled && c.AppColumn == "" {
		c.AppColumn = DefaultAppColumn
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) error {
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv("VOILA_DB_ORGS"); ok {
		c.OrgsEnabled = v == "true"
	}
	if v, ok := os.LookupEnv("VOILA_DB_TENANTS"); ok {
		c.TenantsEnabled = v == "true"
	}
	if v, ok := os.LookupEnv("VOILA_DB_VECTORS"); ok {
		c.VectorsEnabled = v == "true"
	}
	if v, ok := os.LookupEnv("VOILA_DB_APPS"); ok {
		c.AppsEnabled = v == "true"
	}
	if v, ok := os.LookupEnv("VOILA_APP_ID"); ok {
		c.AppID = v
	}
	if v, ok := os.LookupEnv("VOILA_ENV"); ok {
		c.Environment = v
	} else if v, ok := os.LookupEnv("NODE_ENV"); ok {
		c.Environment = v
	}
	if v, ok := os.LookupEnv("VOILA_ORG_CACHE_TTL"); ok {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return apierr.Configuration("VOILA_ORG_CACHE_TTL must be positive integer milliseconds, got %q", v)
		}
		c.OrgCacheTTL = time.Duration(ms) * time.Millisecond
	}
	if v, ok := os.LookupEnv("VOILA_EMERGENCY_URL"); ok {
		c.EmergencyURL = v
	}
	if v, ok := os.LookupEnv("VOILA_REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok := os.LookupEnv("VOILA_DB_ADAPTER"); ok {
		c.AdapterKind = v
	}
	return nil
}

// fileConfig mirrors Config with pointer fields so absent keys leave the
// current value alone.
type fileConfig struct {
	BaseURL       *string `yaml:"base_url"`
	Orgs          *bool   `yaml:"orgs"`
	Tenants       *bool   `yaml:"tenants"`
	Vectors       *bool   `yaml:"vectors"`
	Apps          *bool   `yaml:"apps"`
	AppID         *string `yaml:"app_id"`
	Environment   *string `yaml:"environment"`
	OrgCacheTTLMs *int    `yaml:"org_cache_ttl_ms"`
	EmergencyURL  *string `yaml:"emergency_url"`
	RedisURL      *string `yaml:"redis_url"`
	Adapter       *string `yaml:"adapter"`
	TenantColumn  *string `yaml:"tenant_column"`
	AppColumn     *string `yaml:"app_column"`
}

// applyFile overlays a YAML file onto c. ${VAR} references in the file are
// expanded from the environment before parsing.
func applyFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apierr.Configuration("reading config file %s: %v", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return apierr.Configuration("parsing config file %s: %v", path, err)
	}

	if fc.BaseURL != nil {
		c.BaseURL = *fc.BaseURL
	}
	if fc.Orgs != nil {
		c.OrgsEnabled = *fc.Orgs
	}
	if fc.Tenants != nil {
		c.TenantsEnabled = *fc.Tenants
	}
	if fc.Vectors != nil {
		c.VectorsEnabled = *fc.Vectors
	}
	if fc.Apps != nil {
		c.AppsEnabled = *fc.Apps
	}
	if fc.AppID != nil {
		c.AppID = *fc.AppID
	}
	if fc.Environment != nil {
		c.Environment = *fc.Environment
	}
	if fc.OrgCacheTTLMs != nil {
		if *fc.OrgCacheTTLMs <= 0 {
			return apierr.Configuration("org_cache_ttl_ms must be positive, got %d", *fc.OrgCacheTTLMs)
		}
		c.OrgCacheTTL = time.Duration(*fc.OrgCacheTTLMs) * time.Millisecond
	}
	if fc.EmergencyURL != nil {
		c.EmergencyURL = *fc.EmergencyURL
	}
	if fc.RedisURL != nil {
		c.RedisURL = *fc.RedisURL
	}
	if fc.Adapter != nil {
		c.AdapterKind = *fc.Adapter
	}
	if fc.TenantColumn != nil {
		c.TenantColumn = *fc.TenantColumn
	}
	if fc.AppColumn != nil {
		c.AppColumn = *fc.AppColumn
	}
	return nil
}

var (
	mu      sync.Mutex
	current *Config
)

// Resolve returns the process-wide configuration, reading the environment
// on first call. Repeated calls return the same record.
func Resolve() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current, nil
	}
	c, err := FromEnv()
	if err != nil {
		return nil, err
	}
	current = c
	return c, nil
}

// Reset discards the cached configuration so the next Resolve re-reads the
// environment. Intended for tests.
func Reset() {
	mu.Lock()
	current = nil
	mu.Unlock()
}
