// Package middleware extracts organization and tenant identity from an
// incoming request and attaches a scoped database handle. The request
// descriptor is framework-agnostic; an adapter for net/http is included
// and other frameworks map their request objects onto Request themselves.
package middleware

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	voila "github.com/voiladb/voila"
	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/ident"
	"github.com/voiladb/voila/internal/logging"
)

// Header, parameter, and field names recognized by the extractor.
const (
	HeaderOrg    = "x-org-id"
	HeaderTenant = "x-tenant-id"
	ParamOrg     = "orgId"
	ParamTenant  = "tenantId"
)

// Request is the abstract request descriptor.
type Request struct {
	Headers     map[string]string
	PathParams  map[string]string
	QueryParams map[string]string
	Body        map[string]any
	UserContext map[string]any
	Host        string
}

// Extractor is a custom extraction hook. It takes priority over every
// built-in source; empty return values fall through to them.
type Extractor func(req *Request) (orgID, tenantID string)

// Options configures the middleware.
type Options struct {
	// Router defaults to the process-wide router.
	Router *voila.Router
	// Extractor is consulted before the built-in sources.
	Extractor Extractor
	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// Middleware resolves scoped handles for requests.
type Middleware struct {
	r       *voila.Router
	extract Extractor
	log     *zap.Logger
}

// New creates the middleware.
func New(opts Options) (*Middleware, error) {
	r := opts.Router
	if r == nil {
		var err error
		r, err = voila.Default()
		if err != nil {
			return nil, err
		}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Named("middleware")
	}
	return &Middleware{r: r, extract: opts.Extractor, log: log}, nil
}

// Result is what a resolved request carries: the scoped handle, the
// extracted identity, and helpers to re-scope within the same request.
type Result struct {
	Handle   *voila.Handle
	OrgID    string
	TenantID string

	mw *Middleware
}

// SwitchTenant re-resolves the handle for a different tenant in the same
// organization.
func (res *Result) SwitchTenant(ctx context.Context, tenantID string) (*voila.Handle, error) {
	h, err := res.mw.handleFor(ctx, res.OrgID, tenantID)
	if err != nil {
		return nil, err
	}
	res.TenantID = tenantID
	res.Handle = h
	return h, nil
}

// SwitchOrg re-resolves the handle for a different organization, keeping
// the tenant when one was extracted.
func (res *Result) SwitchOrg(ctx context.Context, orgID string) (*voila.Handle, error) {
	h, err := res.mw.handleFor(ctx, orgID, res.TenantID)
	if err != nil {
		return nil, err
	}
	res.OrgID = orgID
	res.Handle = h
	return h, nil
}

// Resolve extracts identity from the request, validates it, and returns the
// scoped handle. Errors carry an HTTP status code and a request id.
func (m *Middleware) Resolve(ctx context.Context, req *Request) (*Result, error) {
	orgID, tenantID := m.extractIDs(req)
	cfg := m.r.Config()

	if cfg.OrgsEnabled && orgID == "" {
		return nil, m.missing("organization", HeaderOrg, ParamOrg)
	}
	if cfg.TenantsEnabled && tenantID == "" {
		return nil, m.missing("tenant", HeaderTenant, ParamTenant)
	}

	h, err := m.handleFor(ctx, orgID, tenantID)
	if err != nil {
		return nil, err
	}

	return &Result{Handle: h, OrgID: orgID, TenantID: tenantID, mw: m}, nil
}

func (m *Middleware) handleFor(ctx context.Context, orgID, tenantID string) (*voila.Handle, error) {
	cfg := m.r.Config()

	var (
		h   *voila.Handle
		err error
	)
	switch {
	case cfg.OrgsEnabled && cfg.TenantsEnabled:
		h, err = m.r.Org(orgID).Tenant(ctx, tenantID)
	case cfg.OrgsEnabled:
		h, err = m.r.Org(orgID).Get(ctx)
	case cfg.TenantsEnabled:
		h, err = m.r.Tenant(ctx, tenantID)
	default:
		h, err = m.r.Get(ctx)
	}
	if err != nil {
		return nil, m.tagged(err)
	}
	return h, nil
}

// tagged attaches a request id so error responses are traceable in logs.
func (m *Middleware) tagged(err error) error {
	e, ok := apierr.AsError(err)
	if !ok {
		e = apierr.Driver(err)
	}
	e = e.WithRequestID(uuid.NewString())
	m.log.Warn("request scoping failed",
		zap.String("request_id", e.RequestID),
		zap.String("kind", string(e.Kind)),
		zap.Error(err))
	return e
}

func (m *Middleware) missing(what, header, param string) error {
	return m.tagged(apierr.APIUsage(
		"missing %s id: provide the %s header, the %s path or query parameter, a %s body field, userContext.%s, or a subdomain",
		what, header, param, param, param))
}

// extractIDs walks the sources in priority order: custom hook, header,
// path param, query param, body field, user context, subdomain.
func (m *Middleware) extractIDs(req *Request) (string, string) {
	var orgID, tenantID string
	if m.extract != nil {
		orgID, tenantID = m.extract(req)
	}

	if orgID == "" {
		orgID = firstOf(req, HeaderOrg, ParamOrg)
	}
	if tenantID == "" {
		tenantID = firstOf(req, HeaderTenant, ParamTenant)
	}

	// The subdomain names the org when org scoping is active, otherwise
	// the tenant.
	if sub := Subdomain(req.Host); sub != "" {
		if m.r.Config().OrgsEnabled {
			if orgID == "" {
				orgID = sub
			}
		} else if tenantID == "" {
			tenantID = sub
		}
	}
	return orgID, tenantID
}

func firstOf(req *Request, header, param string) string {
	if v := headerValue(req.Headers, header); v != "" {
		return v
	}
	if v := req.PathParams[param]; v != "" {
		return v
	}
	if v := req.QueryParams[param]; v != "" {
		return v
	}
	if v, ok := req.Body[param].(string); ok && v != "" {
		return v
	}
	if v, ok := req.UserContext[param].(string); ok && v != "" {
		return v
	}
	return ""
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Subdomain returns the first host label when it looks like a subdomain
// and is not reserved. "acme.example.com" yields "acme"; "example.com",
// "localhost", and "www.example.com" yield "".
func Subdomain(host string) string {
	if host == "" {
		return ""
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	sub := parts[0]
	if ident.IsReserved(sub) {
		return ""
	}
	return sub
}
