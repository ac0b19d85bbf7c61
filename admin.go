package voila

import (
	"context"
	"io"
	"strings"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/resolver"
)

// ResolverStats is a point-in-time view of the org URL resolver.
type ResolverStats = resolver.Snapshot

// Management operations live on the router rather than on scoped handles:
// cross-tenant access is always an explicit act. orgID is empty when
// organization scoping is disabled.

// CreateTenant records a tenant. Fails with a conflict when it already
// exists.
func (r *Router) CreateTenant(ctx context.Context, orgID, tenantID string) error {
	conn, err := r.adminConn(ctx, orgID)
	if err != nil {
		return err
	}
	if r.perOrg != nil {
		return r.perOrg.CreateTenant(ctx, conn, tenantID)
	}
	return r.shared.CreateTenant(ctx, conn, tenantID)
}

// DeleteTenant removes every row belonging to the tenant across all
// tenant-capable models. Refuses to act without confirm.
func (r *Router) DeleteTenant(ctx context.Context, orgID, tenantID string, confirm bool) (int64, error) {
	conn, err := r.adminConn(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if r.perOrg != nil {
		return r.perOrg.DeleteTenant(ctx, conn, tenantID, confirm)
	}
	return r.shared.DeleteTenant(ctx, conn, tenantID, confirm)
}

// TenantExists reports whether the tenant is known to the registry or has
// rows in any tenant-capable model.
func (r *Router) TenantExists(ctx context.Context, orgID, tenantID string) (bool, error) {
	conn, err := r.adminConn(ctx, orgID)
	if err != nil {
		return false, err
	}
	if r.perOrg != nil {
		return r.perOrg.TenantExists(ctx, conn, tenantID)
	}
	return r.shared.TenantExists(ctx, conn, tenantID)
}

// ListTenants enumerates tenants from the registry or by scanning
// tenant-capable models.
func (r *Router) ListTenants(ctx context.Context, orgID string) ([]string, error) {
	conn, err := r.adminConn(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if r.perOrg != nil {
		return r.perOrg.ListTenants(ctx, conn)
	}
	return r.shared.ListTenants(ctx, conn)
}

// CreateOrg validates the organization id. Database provisioning is not
// this layer's job; the org exists once its URL resolves.
func (r *Router) CreateOrg(ctx context.Context, id string) error {
	if r.perOrg == nil {
		return apierr.APIUsage("organization scoping is not enabled")
	}
	return r.perOrg.CreateOrg(ctx, id)
}

// DeleteOrg evicts the organization from the resolver and handle caches.
func (r *Router) DeleteOrg(ctx context.Context, id string) error {
	if r.perOrg == nil {
		return apierr.APIUsage("organization scoping is not enabled")
	}
	if err := r.perOrg.DeleteOrg(ctx, id); err != nil {
		return err
	}

	prefix := "org:" + id + "|"
	for _, key := range r.pool.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.pool.Evict(key)
		}
	}
	return nil
}

// ListOrgs is best-effort: the resolver cache plus anything the configured
// lister enumerates.
func (r *Router) ListOrgs(ctx context.Context) ([]string, error) {
	if r.perOrg == nil {
		return nil, apierr.APIUsage("organization scoping is not enabled")
	}
	return r.perOrg.ListOrgs(ctx)
}

// ResolverStats returns the resolver's counters and circuit states. Zero
// when organization scoping is disabled.
func (r *Router) ResolverStats() ResolverStats {
	if r.res == nil {
		return ResolverStats{}
	}
	return r.res.Stats()
}

// WriteMetrics writes resolver metrics in Prometheus text format.
func (r *Router) WriteMetrics(w io.Writer) {
	if r.res != nil {
		r.res.WritePrometheus(w)
	}
}

// TripCircuit opens the resolver circuit for an organization. Exposed for
// operations and tests.
func (r *Router) TripCircuit(orgID string) {
	if r.res != nil {
		r.res.TripCircuit(orgID)
	}
}

// ResetCircuit closes the resolver circuit for an organization.
func (r *Router) ResetCircuit(orgID string) {
	if r.res != nil {
		r.res.ResetCircuit(orgID)
	}
}
