// Package rewrite injects tenant (and optional app) scope into every driver
// operation. It is installed as a before-all hook through the adapter's
// Intercept and is the only thing standing between a shared database and
// cross-tenant leakage.
package rewrite

import (
	"sync"

	"go.uber.org/zap"

	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

// Rewriter binds a tenant id (and optional app id) and rewrites operations
// so that the scope is an implicit predicate on reads and an implicit column
// on writes.
type Rewriter struct {
	tenantID  string
	appID     string
	tenantCol string
	appCol    string
	reg       *schema.Registry
	log       *zap.Logger

	skipLogged sync.Map // model name -> struct{}
}

// New creates a rewriter bound to the given scope. appID and appCol may be
// empty when multi-app isolation is disabled.
func New(reg *schema.Registry, tenantID, tenantCol, appID, appCol string, log *zap.Logger) *Rewriter {
	return &Rewriter{
		tenantID:  tenantID,
		appID:     appID,
		tenantCol: tenantCol,
		appCol:    appCol,
		reg:       reg,
		log:       log,
	}
}

// TenantID returns the tenant the rewriter is bound to.
func (rw *Rewriter) TenantID() string {
	return rw.tenantID
}

// Hook returns the interception hook for adapter installation.
func (rw *Rewriter) Hook() query.Hook {
	return rw.Rewrite
}

// Rewrite returns a scoped copy of op. Operations on models that lack the
// tenant column pass through untouched; this is logged once per model.
func (rw *Rewriter) Rewrite(op *query.Operation) (*query.Operation, error) {
	model, ok := rw.reg.Lookup(op.Model)
	if !ok || !model.HasColumn(rw.tenantCol) {
		if _, logged := rw.skipLogged.LoadOrStore(op.Model, struct{}{}); !logged {
			rw.log.Warn("model has no tenant column, operations are not scoped",
				zap.String("model", op.Model),
				zap.String("column", rw.tenantCol))
		}
		return op, nil
	}

	out := op.Clone()
	withApp := rw.appCol != "" && rw.appID != "" && model.HasColumn(rw.appCol)

	switch op.Action {
	case query.ActionCreate:
		out.Data = rw.injectRecord(out.Data, model, withApp)

	case query.ActionCreateMany:
		for i, row := range out.Rows {
			out.Rows[i] = rw.injectRecord(row, model, withApp)
		}

	case query.ActionUpsert:
		out.Create = rw.injectRecord(out.Create, model, withApp)
		out.Update = rw.injectRecord(out.Update, model, withApp)
		out.Where = rw.injectWhere(out.Where, withApp)

	default:
		// findFirst, findMany, findUnique, count, update, updateMany,
		// delete, deleteMany: compose the scope into the predicate.
		out.Where = rw.injectWhere(out.Where, withApp)
		if op.Action == query.ActionUpdate || op.Action == query.ActionUpdateMany {
			// An update payload must not move rows across tenants.
			if out.Data != nil {
				if _, has := out.Data[rw.tenantCol]; has {
					out.Data[rw.tenantCol] = rw.tenantID
				}
			}
		}
	}

	return out, nil
}

// injectRecord overwrites the scope columns on a write payload and descends
// into nested relational writes whose related models are tenant-capable.
func (rw *Rewriter) injectRecord(rec query.Record, model *schema.Model, withApp bool) query.Record {
	if rec == nil {
		rec = query.Record{}
	}
	rec[rw.tenantCol] = rw.tenantID
	if withApp {
		rec[rw.appCol] = rw.appID
	}

	for field, relName := range model.Relations {
		rel, ok := rw.reg.Lookup(relName)
		if !ok || !rel.HasColumn(rw.tenantCol) {
			continue
		}
		relApp := rw.appCol != "" && rw.appID != "" && rel.HasColumn(rw.appCol)
		switch nested := rec[field].(type) {
		case query.Record:
			rec[field] = rw.injectRecord(nested, rel, relApp)
		case []query.Record:
			for i, n := range nested {
				nested[i] = rw.injectRecord(n, rel, relApp)
			}
		}
	}
	return rec
}

// injectWhere composes the scope predicate into a (cloned) where tree so the
// serialized query binds the tenant column in exactly one place.
func (rw *Rewriter) injectWhere(w query.Where, withApp bool) query.Where {
	w = inject(w, rw.tenantCol, rw.tenantID)
	if withApp {
		w = inject(w, rw.appCol, rw.appID)
	}
	return w
}

func inject(w query.Where, col string, val any) query.Where {
	if w == nil {
		return query.Where{col: val}
	}

	// A caller-supplied binding is forced to the handle's scope rather than
	// trusted; the predicate still binds the column in exactly one place.
	if _, bound := w[col]; bound {
		w[col] = val
		return w
	}

	if raw, ok := w["AND"]; ok {
		if and, ok := raw.([]query.Where); ok {
			for _, conjunct := range and {
				if _, bound := conjunct[col]; bound {
					conjunct[col] = val
					return w
				}
			}
			w["AND"] = append(and, query.Where{col: val})
			return w
		}
	}

	if _, ok := w["OR"]; ok {
		// A disjunction without an enveloping scope constraint is the prime
		// leakage path: wrap it as AND [ scope, OR(...) ].
		return query.Where{"AND": []query.Where{{col: val}, w}}
	}

	w[col] = val
	return w
}
