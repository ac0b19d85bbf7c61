// Package voila routes application queries to the right database for a
// multi-tenant, multi-organization deployment. Tenants are isolated by
// injected row predicates, organizations by per-org database URLs, and the
// router hands out scoped handles whose every operation honors that scope.
package voila

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voiladb/voila/config"
	"github.com/voiladb/voila/internal/adapter"
	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/connpool"
	"github.com/voiladb/voila/internal/ident"
	"github.com/voiladb/voila/internal/logging"
	"github.com/voiladb/voila/internal/resolver"
	"github.com/voiladb/voila/internal/strategy"
	"github.com/voiladb/voila/schema"
)

// shutdownTimeout bounds Shutdown when the caller's context has no
// deadline.
const shutdownTimeout = 30 * time.Second

// Options configures a Router. Zero values fall back to the process-wide
// configuration, registry, and logger.
type Options struct {
	// Config defaults to config.Resolve().
	Config *config.Config
	// Registry defaults to schema.Default().
	Registry *schema.Registry
	// ResolverHook resolves org ids to database URLs dynamically.
	ResolverHook resolver.Hook
	// OrgLister enumerates organizations for ListOrgs, when available.
	OrgLister func(ctx context.Context) ([]string, error)
	// Adapter overrides scheme-based adapter selection. Used by tests.
	Adapter adapter.Adapter
	// Redis overrides the client built from VOILA_REDIS_URL.
	Redis *redis.Client
	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// Router is the façade: Get, Tenant, and Org are the only entry points
// application code uses to obtain scoped handles.
type Router struct {
	cfg *config.Config
	reg *schema.Registry
	ad  adapter.Adapter
	log *zap.Logger

	res    *resolver.Resolver
	shared *strategy.Shared
	perOrg *strategy.PerOrg

	pool   *connpool.Pool[*Handle]
	scopes scopeIndex

	ownedRedis *redis.Client
}

// NewRouter builds a router from the given options.
func NewRouter(opts Options) (*Router, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Resolve()
		if err != nil {
			return nil, err
		}
	}

	log := opts.Logger
	if log == nil {
		log = logging.Named("voila")
	}

	reg := opts.Registry
	if reg == nil {
		reg = schema.Default()
	}

	ad := opts.Adapter
	if ad == nil {
		scheme, err := cfg.Scheme()
		if err != nil {
			return nil, err
		}
		ad, err = adapter.ForScheme(scheme, reg)
		if err != nil {
			return nil, err
		}
	}

	r := &Router{cfg: cfg, reg: reg, ad: ad, log: log}

	if cfg.OrgsEnabled {
		rdb := opts.Redis
		if rdb == nil && cfg.RedisURL != "" {
			ropts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, apierr.Configuration("invalid VOILA_REDIS_URL: %v", err)
			}
			rdb = redis.NewClient(ropts)
			r.ownedRedis = rdb
		}

		r.res = resolver.New(resolver.Options{
			BaseURL:      cfg.BaseURL,
			Hook:         opts.ResolverHook,
			TTL:          cfg.OrgCacheTTL,
			EmergencyURL: cfg.EmergencyURL,
			Redis:        rdb,
			Logger:       log.Named("resolver"),
		})
		r.res.StartSweeper(time.Hour)

		r.perOrg = strategy.NewPerOrg(strategy.Options{
			Config:    cfg,
			Registry:  reg,
			Adapter:   ad,
			Resolver:  r.res,
			OrgLister: opts.OrgLister,
			Logger:    log,
		})
	} else {
		r.shared = strategy.NewShared(strategy.Options{
			Config:   cfg,
			Registry: reg,
			Adapter:  ad,
			Logger:   log,
		})
	}

	r.pool = connpool.New(r.buildHandle, r.releaseHandle)

	if cfg.Development() {
		log.Debug("router initialized",
			zap.String("strategy", string(cfg.Strategy())),
			zap.Bool("tenants", cfg.TenantsEnabled),
			zap.Bool("orgs", cfg.OrgsEnabled))
	}
	return r, nil
}

// Config returns the router's effective configuration.
func (r *Router) Config() *config.Config {
	return r.cfg
}

// Get returns a handle scoped to the ambient configuration.
func (r *Router) Get(ctx context.Context) (*Handle, error) {
	if r.cfg.OrgsEnabled {
		if r.cfg.TenantsEnabled {
			return nil, apierr.APIUsage("organization and tenant scoping are both enabled; use org(<id>).tenant(<id>)")
		}
		return nil, apierr.APIUsage("organization scoping is enabled; use org(<id>).get()")
	}
	if r.cfg.TenantsEnabled {
		return nil, apierr.APIUsage("tenant scoping is enabled; use tenant(<id>) to choose a tenant")
	}
	return r.handle(ctx, strategy.Scope{AppID: r.cfg.AppID})
}

// Tenant returns a handle scoped to one tenant. Legal only when tenant
// scoping is enabled and organization scoping is not.
func (r *Router) Tenant(ctx context.Context, id string) (*Handle, error) {
	if !r.cfg.TenantsEnabled {
		return nil, apierr.APIUsage("tenant scoping is not enabled; set VOILA_DB_TENANTS=true or call get()")
	}
	if r.cfg.OrgsEnabled {
		return nil, apierr.APIUsage("organization scoping is enabled; use org(<id>).tenant(<id>) instead of tenant(<id>)")
	}
	if err := ident.Validate(id, ident.KindTenant); err != nil {
		return nil, err
	}
	return r.handle(ctx, strategy.Scope{TenantID: id, AppID: r.cfg.AppID})
}

// Org returns a builder for handles scoped to one organization.
func (r *Router) Org(id string) *OrgBuilder {
	b := &OrgBuilder{r: r, id: id}
	if !r.cfg.OrgsEnabled {
		b.err = apierr.APIUsage("organization scoping is not enabled; set VOILA_DB_ORGS=true or call get()")
		return b
	}
	if err := ident.Validate(id, ident.KindOrg); err != nil {
		b.err = err
	}
	return b
}

// OrgBuilder scopes handle construction to one organization.
type OrgBuilder struct {
	r   *Router
	id  string
	err error
}

// Get returns the organization-scoped handle without a tenant.
func (b *OrgBuilder) Get(ctx context.Context) (*Handle, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.r.cfg.TenantsEnabled {
		return nil, apierr.APIUsage("tenant scoping is enabled; use org(<id>).tenant(<id>)")
	}
	return b.r.handle(ctx, strategy.Scope{OrgID: b.id, AppID: b.r.cfg.AppID})
}

// Tenant returns the handle scoped to a tenant within the organization.
func (b *OrgBuilder) Tenant(ctx context.Context, id string) (*Handle, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.r.cfg.TenantsEnabled {
		return nil, apierr.APIUsage("tenant scoping is not enabled; use org(<id>).get()")
	}
	if err := ident.Validate(id, ident.KindTenant); err != nil {
		return nil, err
	}
	return b.r.handle(ctx, strategy.Scope{OrgID: b.id, TenantID: id, AppID: b.r.cfg.AppID})
}

// handle returns the cached handle for scope, constructing it on first use.
func (r *Router) handle(ctx context.Context, scope strategy.Scope) (*Handle, error) {
	key := scope.Key()
	r.scopes.put(key, scope)
	return r.pool.Get(ctx, key)
}

// adminConn opens a connection for management operations, bypassing the
// router-surface legality checks. Cross-tenant admin access is always an
// explicit act.
func (r *Router) adminConn(ctx context.Context, orgID string) (*strategy.Conn, error) {
	h, err := r.adminHandle(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return h.conn, nil
}

func (r *Router) adminHandle(ctx context.Context, orgID string) (*Handle, error) {
	if r.cfg.OrgsEnabled {
		if orgID == "" {
			return nil, apierr.APIUsage("organization scoping is enabled; management operations need an org id")
		}
		if err := ident.Validate(orgID, ident.KindOrg); err != nil {
			return nil, err
		}
	} else if orgID != "" {
		return nil, apierr.APIUsage("organization scoping is not enabled; omit the org id")
	}
	return r.handle(ctx, strategy.Scope{OrgID: orgID})
}

func (r *Router) buildHandle(ctx context.Context, key string) (*Handle, error) {
	scope, ok := r.scopes.get(key)
	if !ok {
		return nil, apierr.New(apierr.KindDriver, 500, "unknown scope key %q", key)
	}

	var (
		conn *strategy.Conn
		err  error
	)
	if r.perOrg != nil {
		conn, err = r.perOrg.Connect(ctx, scope)
	} else {
		conn, err = r.shared.Connect(ctx, scope)
	}
	if err != nil {
		if _, ok := apierr.AsError(err); !ok {
			err = apierr.Driver(err)
		}
		return nil, err
	}
	return &Handle{r: r, conn: conn}, nil
}

// releaseHandle closes the underlying client when no other cached handle
// shares its URL. The adapter owns raw clients; eviction goes through it.
func (r *Router) releaseHandle(h *Handle) error {
	for _, key := range r.pool.Keys() {
		if other, ok := r.pool.Peek(key); ok && other.conn.URL == h.conn.URL {
			return nil
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return r.ad.Evict(ctx, h.conn.URL)
}

// Evict drops the cached handle for a scope and closes its client when no
// other scope shares it.
func (r *Router) Evict(scope Scope) error {
	return r.pool.Evict(scope.key())
}

// ClearCache drops every cached handle and resolver entry. Part of the
// contract so tests can reset global state.
func (r *Router) ClearCache(ctx context.Context) error {
	err := r.pool.Shutdown(ctx)
	if r.res != nil {
		r.res.ClearCache()
	}
	return err
}

// Shutdown closes all handles and clients concurrently, bounded by the
// caller's deadline or a default timeout.
func (r *Router) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	if r.res != nil {
		r.res.StopSweeper()
	}

	err := r.pool.Shutdown(ctx)
	if err != nil {
		r.log.Warn("some connections did not close cleanly", zap.Error(err))
	}
	if cerr := r.ad.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if r.ownedRedis != nil {
		r.ownedRedis.Close()
	}
	return err
}

// Scope identifies a handle by organization, tenant, and app.
type Scope struct {
	OrgID    string
	TenantID string
	AppID    string
}

func (s Scope) key() string {
	return strategy.Scope{OrgID: s.OrgID, TenantID: s.TenantID, AppID: s.AppID}.Key()
}
