// Package strategy combines a URL, an adapter, and a rewriter into scoped
// connections. Two variants exist: Shared (one database, row-level tenant
// predicates) and PerOrg (one database per organization, with optional
// in-database tenant predicates).
package strategy

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/voiladb/voila/config"
	"github.com/voiladb/voila/internal/adapter"
	"github.com/voiladb/voila/internal/ident"
	"github.com/voiladb/voila/internal/logging"
	"github.com/voiladb/voila/internal/resolver"
	"github.com/voiladb/voila/internal/rewrite"
	"github.com/voiladb/voila/schema"
)

// Scope identifies which organization, tenant, and app a connection serves.
type Scope struct {
	OrgID    string
	TenantID string
	AppID    string
}

// Key returns the canonical cache key for the scope.
func (s Scope) Key() string {
	return fmt.Sprintf("org:%s|tenant:%s|app:%s", s.OrgID, s.TenantID, s.AppID)
}

// Conn is a scoped connection. Client carries the interception pipeline
// when the scope names a tenant; Base is the raw client underneath it.
type Conn struct {
	Client adapter.Client
	Base   adapter.Client
	URL    string
	Source resolver.Source
	Scope  Scope
}

// Strategy opens scoped connections.
type Strategy interface {
	Connect(ctx context.Context, scope Scope) (*Conn, error)
}

// Options configures a strategy.
type Options struct {
	Config   *config.Config
	Registry *schema.Registry
	Adapter  adapter.Adapter
	// Resolver is required for PerOrg.
	Resolver *resolver.Resolver
	// OrgLister optionally enumerates organizations for ListOrgs.
	OrgLister func(ctx context.Context) ([]string, error)
	Logger    *zap.Logger
}

func (o *Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.Named("strategy")
}

// Shared keeps every tenant in the base database, isolated by predicates.
type Shared struct {
	cfg   *config.Config
	ad    adapter.Adapter
	reg   *schema.Registry
	admin *tenantAdmin
	log   *zap.Logger
}

// NewShared creates the shared-database strategy.
func NewShared(opts Options) *Shared {
	log := opts.logger()
	return &Shared{
		cfg: opts.Config,
		ad:  opts.Adapter,
		reg: opts.Registry,
		admin: &tenantAdmin{
			reg: opts.Registry,
			ad:  opts.Adapter,
			col: opts.Config.TenantColumn,
			log: log,
		},
		log: log,
	}
}

func (s *Shared) Connect(ctx context.Context, scope Scope) (*Conn, error) {
	base, err := s.ad.Client(ctx, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	client := base
	if scope.TenantID != "" {
		rw := rewrite.New(s.reg, scope.TenantID, s.cfg.TenantColumn, scope.AppID, s.cfg.AppColumn, s.log)
		client = adapter.Intercept(base, rw.Hook())
	}
	return &Conn{Client: client, Base: base, URL: s.cfg.BaseURL, Scope: scope}, nil
}

// CreateTenant records a tenant in the registry when the backend has one.
// Fails with a conflict when the tenant already exists.
func (s *Shared) CreateTenant(ctx context.Context, conn *Conn, id string) error {
	return s.admin.create(ctx, conn.Base, id)
}

// DeleteTenant removes every row carrying the tenant across all
// tenant-capable models. Requires confirm; transactional when the backend
// supports it.
func (s *Shared) DeleteTenant(ctx context.Context, conn *Conn, id string, confirm bool) (int64, error) {
	return s.admin.delete(ctx, conn.Base, id, confirm)
}

// TenantExists consults the registry, falling back to scanning user tables.
func (s *Shared) TenantExists(ctx context.Context, conn *Conn, id string) (bool, error) {
	return s.admin.exists(ctx, conn.Base, id)
}

// ListTenants consults the registry, falling back to scanning user tables.
func (s *Shared) ListTenants(ctx context.Context, conn *Conn) ([]string, error) {
	return s.admin.list(ctx, conn.Base)
}

// PerOrg routes each organization to its own database URL.
type PerOrg struct {
	cfg    *config.Config
	ad     adapter.Adapter
	reg    *schema.Registry
	res    *resolver.Resolver
	lister func(ctx context.Context) ([]string, error)
	admin  *tenantAdmin
	log    *zap.Logger
}

// NewPerOrg creates the per-organization strategy.
func NewPerOrg(opts Options) *PerOrg {
	log := opts.logger()
	return &PerOrg{
		cfg:    opts.Config,
		ad:     opts.Adapter,
		reg:    opts.Registry,
		res:    opts.Resolver,
		lister: opts.OrgLister,
		admin: &tenantAdmin{
			reg: opts.Registry,
			ad:  opts.Adapter,
			col: opts.Config.TenantColumn,
			log: log,
		},
		log: log,
	}
}

func (p *PerOrg) Connect(ctx context.Context, scope Scope) (*Conn, error) {
	url, source, err := p.res.Resolve(ctx, scope.OrgID)
	if err != nil {
		return nil, err
	}

	base, err := p.ad.Client(ctx, url)
	if err != nil {
		return nil, err
	}

	client := base
	if scope.TenantID != "" {
		rw := rewrite.New(p.reg, scope.TenantID, p.cfg.TenantColumn, scope.AppID, p.cfg.AppColumn, p.log)
		client = adapter.Intercept(base, rw.Hook())
	}
	return &Conn{Client: client, Base: base, URL: url, Source: source, Scope: scope}, nil
}

// CreateOrg validates the id. Creating a database is not this layer's job;
// the org exists once its URL resolves.
func (p *PerOrg) CreateOrg(ctx context.Context, id string) error {
	return ident.Validate(id, ident.KindOrg)
}

// DeleteOrg drops the organization from the resolver cache. The database
// itself is left alone.
func (p *PerOrg) DeleteOrg(ctx context.Context, id string) error {
	if err := ident.Validate(id, ident.KindOrg); err != nil {
		return err
	}
	p.res.Evict(id)
	return nil
}

// ListOrgs is best-effort: the resolver cache plus anything the configured
// lister enumerates.
func (p *PerOrg) ListOrgs(ctx context.Context) ([]string, error) {
	set := map[string]bool{}
	for _, id := range p.res.CachedOrgs() {
		set[id] = true
	}
	if p.lister != nil {
		listed, err := p.lister(ctx)
		if err != nil {
			p.log.Warn("org lister failed", zap.Error(err))
		} else {
			for _, id := range listed {
				set[id] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// CreateTenant records a tenant inside the organization's database.
func (p *PerOrg) CreateTenant(ctx context.Context, conn *Conn, id string) error {
	return p.admin.create(ctx, conn.Base, id)
}

// DeleteTenant removes the tenant's rows inside the organization's
// database.
func (p *PerOrg) DeleteTenant(ctx context.Context, conn *Conn, id string, confirm bool) (int64, error) {
	return p.admin.delete(ctx, conn.Base, id, confirm)
}

// TenantExists checks inside the organization's database.
func (p *PerOrg) TenantExists(ctx context.Context, conn *Conn, id string) (bool, error) {
	return p.admin.exists(ctx, conn.Base, id)
}

// ListTenants lists inside the organization's database.
func (p *PerOrg) ListTenants(ctx context.Context, conn *Conn) ([]string, error) {
	return p.admin.list(ctx, conn.Base)
}
