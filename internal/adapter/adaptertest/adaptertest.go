// Package adaptertest provides an in-memory adapter for tests. It stores
// rows per model, evaluates predicate trees the way the real builders
// serialize them, and records every operation it executes.
package adaptertest

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/voiladb/voila/internal/adapter"
	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

// Adapter is an in-memory adapter.Adapter. One Client is cached per URL.
type Adapter struct {
	mu      sync.Mutex
	clients map[string]*Client

	// KindVal is reported by Kind. Defaults to KindRelational.
	KindVal adapter.Kind
	// WithRegistry enables the in-memory tenant registry.
	WithRegistry bool
	// ConnectErr, when set, fails every Client call.
	ConnectErr error
	// Builds counts Client cache misses.
	Builds int
}

// New creates an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{clients: make(map[string]*Client), KindVal: adapter.KindRelational}
}

// RegisterScheme installs a as the factory for scheme.
func (a *Adapter) RegisterScheme(scheme string) {
	adapter.Register(scheme, a.KindVal, func(*schema.Registry) adapter.Adapter { return a })
}

func (a *Adapter) Kind() adapter.Kind { return a.KindVal }

func (a *Adapter) Client(ctx context.Context, url string) (adapter.Client, error) {
	if a.ConnectErr != nil {
		return nil, a.ConnectErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[url]; ok {
		return c, nil
	}
	a.Builds++
	c := &Client{URL: url, rows: make(map[string][]query.Record)}
	if a.WithRegistry {
		c.tenants = make(map[string]bool)
	}
	a.clients[url] = c
	return c, nil
}

func (a *Adapter) Registry(c adapter.Client) (adapter.Registry, bool) {
	mc, ok := adapter.Unwrap(c).(*Client)
	if !ok || mc.tenants == nil {
		return nil, false
	}
	return &memRegistry{c: mc}, true
}

func (a *Adapter) Evict(ctx context.Context, url string) error {
	a.mu.Lock()
	c, ok := a.clients[url]
	delete(a.clients, url)
	a.mu.Unlock()
	if ok {
		c.Close(ctx)
	}
	return nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.clients {
		c.Close(ctx)
	}
	a.clients = make(map[string]*Client)
	return nil
}

// ClientFor returns the cached client for url without creating one.
func (a *Adapter) ClientFor(url string) (*Client, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clients[url]
	return c, ok
}

// Client is an in-memory adapter.Client.
type Client struct {
	URL string

	mu      sync.Mutex
	rows    map[string][]query.Record
	ops     []*query.Operation
	raws    []string
	tenants map[string]bool
	closed  bool
}

// Ops returns every structured operation executed, in order.
func (c *Client) Ops() []*query.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*query.Operation(nil), c.ops...)
}

// LastOp returns the most recent structured operation, or nil.
func (c *Client) LastOp() *query.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ops) == 0 {
		return nil
	}
	return c.ops[len(c.ops)-1]
}

// Raws returns every raw command executed.
func (c *Client) Raws() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.raws...)
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Seed inserts rows for a model without recording an operation.
func (c *Client) Seed(model string, rows ...query.Record) {
	c.mu.Lock()
	c.rows[model] = append(c.rows[model], rows...)
	c.mu.Unlock()
}

func (c *Client) Execute(ctx context.Context, op *query.Operation) (*query.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
	return c.execLocked(op)
}

func (c *Client) execLocked(op *query.Operation) (*query.Result, error) {
	switch op.Action {
	case query.ActionCreate:
		row := query.CloneRecord(op.Data)
		c.rows[op.Model] = append(c.rows[op.Model], row)
		return &query.Result{Rows: []query.Record{row}, Count: 1}, nil

	case query.ActionCreateMany:
		out := make([]query.Record, 0, len(op.Rows))
		for _, r := range op.Rows {
			row := query.CloneRecord(r)
			c.rows[op.Model] = append(c.rows[op.Model], row)
			out = append(out, row)
		}
		return &query.Result{Rows: out, Count: int64(len(out))}, nil

	case query.ActionFindFirst, query.ActionFindUnique:
		for _, r := range c.rows[op.Model] {
			if matchWhere(r, op.Where) {
				return &query.Result{Rows: []query.Record{r}, Count: 1}, nil
			}
		}
		return &query.Result{}, nil

	case query.ActionFindMany:
		var out []query.Record
		for _, r := range c.rows[op.Model] {
			if matchWhere(r, op.Where) {
				out = append(out, r)
				if op.Limit > 0 && len(out) == op.Limit {
					break
				}
			}
		}
		return &query.Result{Rows: out, Count: int64(len(out))}, nil

	case query.ActionCount:
		var n int64
		for _, r := range c.rows[op.Model] {
			if matchWhere(r, op.Where) {
				n++
			}
		}
		return &query.Result{Count: n}, nil

	case query.ActionUpdate, query.ActionUpdateMany:
		var n int64
		for _, r := range c.rows[op.Model] {
			if matchWhere(r, op.Where) {
				for k, v := range op.Data {
					r[k] = v
				}
				n++
				if op.Action == query.ActionUpdate {
					break
				}
			}
		}
		return &query.Result{Count: n}, nil

	case query.ActionDelete, query.ActionDeleteMany:
		kept := c.rows[op.Model][:0]
		var n int64
		for _, r := range c.rows[op.Model] {
			if matchWhere(r, op.Where) && (op.Action == query.ActionDeleteMany || n == 0) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		c.rows[op.Model] = kept
		return &query.Result{Count: n}, nil

	case query.ActionUpsert:
		var n int64
		for _, r := range c.rows[op.Model] {
			if matchWhere(r, op.Where) {
				for k, v := range op.Update {
					r[k] = v
				}
				n++
			}
		}
		if n > 0 {
			return &query.Result{Count: n}, nil
		}
		row := query.CloneRecord(op.Create)
		c.rows[op.Model] = append(c.rows[op.Model], row)
		return &query.Result{Rows: []query.Record{row}, Count: 1}, nil
	}
	return &query.Result{}, nil
}

func (c *Client) Raw(ctx context.Context, cmd string, args ...any) (*query.Result, error) {
	c.mu.Lock()
	c.raws = append(c.raws, cmd)
	c.mu.Unlock()
	return &query.Result{}, nil
}

func (c *Client) Ping(ctx context.Context) error { return nil }

func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// InTx runs fn against the same client. Rollback is not simulated.
func (c *Client) InTx(ctx context.Context, fn func(adapter.Client) error) error {
	return fn(c)
}

// Distinct returns the sorted distinct values of column across model rows.
func (c *Client) Distinct(model, column string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := map[string]bool{}
	for _, r := range c.rows[model] {
		if s, ok := r[column].(string); ok {
			set[s] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func matchWhere(rec query.Record, w query.Where) bool {
	for key, val := range w {
		switch key {
		case "AND":
			nested, ok := val.([]query.Where)
			if !ok {
				return false
			}
			for _, c := range nested {
				if !matchWhere(rec, c) {
					return false
				}
			}
		case "OR":
			nested, ok := val.([]query.Where)
			if !ok {
				return false
			}
			any := false
			for _, c := range nested {
				if matchWhere(rec, c) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		default:
			if list, ok := val.([]any); ok {
				found := false
				for _, v := range list {
					if reflect.DeepEqual(rec[key], v) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
				continue
			}
			if !reflect.DeepEqual(rec[key], val) {
				return false
			}
		}
	}
	return true
}

type memRegistry struct {
	c *Client
}

func (r *memRegistry) EnsureTenant(ctx context.Context, id string) error {
	r.c.mu.Lock()
	r.c.tenants[id] = true
	r.c.mu.Unlock()
	return nil
}

func (r *memRegistry) RemoveTenant(ctx context.Context, id string) error {
	r.c.mu.Lock()
	delete(r.c.tenants, id)
	r.c.mu.Unlock()
	return nil
}

func (r *memRegistry) TenantExists(ctx context.Context, id string) (bool, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.tenants[id], nil
}

func (r *memRegistry) ListTenants(ctx context.Context) ([]string, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	out := make([]string, 0, len(r.c.tenants))
	for id := range r.c.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
