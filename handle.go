package voila

import (
	"context"
	"sync"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/strategy"
	"github.com/voiladb/voila/query"
)

// scopeIndex remembers the scope behind each cache key so the pool's
// builder can reconstruct it.
type scopeIndex struct {
	m sync.Map
}

func (s *scopeIndex) put(key string, scope strategy.Scope) {
	s.m.Store(key, scope)
}

func (s *scopeIndex) get(key string) (strategy.Scope, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		return strategy.Scope{}, false
	}
	return v.(strategy.Scope), true
}

// Handle is a scoped database handle. Every model operation issued through
// it carries the handle's tenant and app scope; only Raw bypasses the
// rewriter, by explicit choice.
type Handle struct {
	r    *Router
	conn *strategy.Conn
}

// Model returns the operation surface for one model.
func (h *Handle) Model(name string) *ModelClient {
	return &ModelClient{h: h, name: name}
}

// Raw runs an unstructured command against the raw client, bypassing scope
// injection. The separate name makes the escape hatch an explicit choice.
func (h *Handle) Raw(ctx context.Context, cmd string, args ...any) (*query.Result, error) {
	return h.conn.Base.Raw(ctx, cmd, args...)
}

// Vectors returns the vector-operations surface. Gated by
// VOILA_DB_VECTORS; the same backing client serves it.
func (h *Handle) Vectors() (*Vectors, error) {
	if !h.r.cfg.VectorsEnabled {
		return nil, apierr.APIUsage("vector operations are not enabled; set VOILA_DB_VECTORS=true")
	}
	return &Vectors{h: h}, nil
}

// OrgID returns the organization the handle is scoped to, if any.
func (h *Handle) OrgID() string { return h.conn.Scope.OrgID }

// TenantID returns the tenant the handle is scoped to, if any.
func (h *Handle) TenantID() string { return h.conn.Scope.TenantID }

// URL returns the database URL the handle targets.
func (h *Handle) URL() string { return h.conn.URL }

// Ping verifies the underlying connection.
func (h *Handle) Ping(ctx context.Context) error {
	return h.conn.Base.Ping(ctx)
}

// Close is a no-op: the connection cache owns handle lifetime. Evict the
// scope or shut the router down to release resources.
func (h *Handle) Close(ctx context.Context) error {
	return nil
}

// Vectors exposes embedding operations on the handle's backing client.
type Vectors struct {
	h *Handle
}

// UpsertEmbedding writes an embedding row through the scoped pipeline, so
// the tenant column is injected like any other write.
func (v *Vectors) UpsertEmbedding(ctx context.Context, model string, where query.Where, row query.Record) (*query.Result, error) {
	return v.h.conn.Client.Execute(ctx, &query.Operation{
		Model:  model,
		Action: query.ActionUpsert,
		Where:  where,
		Create: row,
		Update: row,
	})
}

// Search runs a raw similarity-search command. Like Handle.Raw it bypasses
// scope injection; callers embed the tenant constraint themselves.
func (v *Vectors) Search(ctx context.Context, cmd string, args ...any) (*query.Result, error) {
	return v.h.conn.Base.Raw(ctx, cmd, args...)
}
