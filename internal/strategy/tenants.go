package strategy

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/voiladb/voila/internal/adapter"
	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/ident"
	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

// tenantAdmin implements the management operations shared by both
// strategies. It prefers the adapter's tenant registry and falls back to
// scanning tenant-capable models.
type tenantAdmin struct {
	reg *schema.Registry
	ad  adapter.Adapter
	col string
	log *zap.Logger
}

func (t *tenantAdmin) create(ctx context.Context, c adapter.Client, id string) error {
	if err := ident.Validate(id, ident.KindTenant); err != nil {
		return err
	}

	exists, err := t.exists(ctx, c, id)
	if err != nil {
		return err
	}
	if exists {
		return apierr.Conflict("tenant %q already exists", id)
	}

	// Row-level tenants exist implicitly once rows are written; the
	// registry write is best-effort bookkeeping.
	if r, ok := t.ad.Registry(c); ok {
		if err := r.EnsureTenant(ctx, id); err != nil {
			return apierr.Driver(err)
		}
	}
	return nil
}

func (t *tenantAdmin) delete(ctx context.Context, c adapter.Client, id string, confirm bool) (int64, error) {
	if err := ident.Validate(id, ident.KindTenant); err != nil {
		return 0, err
	}
	if !confirm {
		return 0, apierr.APIUsage("deleting tenant %q removes all of its rows; pass confirm: true to proceed", id)
	}

	models := t.reg.TenantCapableModels(t.col)
	var total int64
	run := func(cc adapter.Client) error {
		for _, m := range models {
			res, err := cc.Execute(ctx, &query.Operation{
				Model:  m,
				Action: query.ActionDeleteMany,
				Where:  query.Where{t.col: id},
			})
			if err != nil {
				return err
			}
			total += res.Count
		}
		if r, ok := t.ad.Registry(cc); ok {
			return r.RemoveTenant(ctx, id)
		}
		return nil
	}

	var err error
	if tx, ok := c.(adapter.TxRunner); ok {
		err = tx.InTx(ctx, run)
	} else {
		t.log.Warn("backend does not support transactions, deleting tenant sequentially",
			zap.String("tenant", id))
		err = run(c)
	}
	if err != nil {
		return 0, apierr.Driver(err)
	}

	t.log.Info("tenant deleted",
		zap.String("tenant", id),
		zap.Int64("rows", total),
		zap.Int("models", len(models)))
	return total, nil
}

func (t *tenantAdmin) exists(ctx context.Context, c adapter.Client, id string) (bool, error) {
	if err := ident.Validate(id, ident.KindTenant); err != nil {
		return false, err
	}

	if r, ok := t.ad.Registry(c); ok {
		exists, err := r.TenantExists(ctx, id)
		if err != nil {
			return false, apierr.Driver(err)
		}
		return exists, nil
	}

	for _, m := range t.reg.TenantCapableModels(t.col) {
		res, err := c.Execute(ctx, &query.Operation{
			Model:  m,
			Action: query.ActionCount,
			Where:  query.Where{t.col: id},
		})
		if err != nil {
			return false, apierr.Driver(err)
		}
		if res.Count > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (t *tenantAdmin) list(ctx context.Context, c adapter.Client) ([]string, error) {
	if r, ok := t.ad.Registry(c); ok {
		ids, err := r.ListTenants(ctx)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return ids, nil
	}

	// Only tenant-capable models contribute; models without the column are
	// never scanned.
	set := map[string]bool{}
	for _, m := range t.reg.TenantCapableModels(t.col) {
		res, err := c.Execute(ctx, &query.Operation{
			Model:  m,
			Action: query.ActionFindMany,
		})
		if err != nil {
			return nil, apierr.Driver(err)
		}
		for _, row := range res.Rows {
			if s, ok := row[t.col].(string); ok && s != "" {
				set[s] = true
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
