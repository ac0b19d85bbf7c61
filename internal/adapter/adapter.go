// Package adapter constructs raw driver clients and installs the query
// interception hook. Two variants exist: relational (database/sql via pgx)
// and document (mongo). Adapters cache raw clients per URL so repeated
// Client calls return the same connection pool.
package adapter

import (
	"context"
	"sync"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/urlbuild"
	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

// Kind identifies the adapter variant.
type Kind string

const (
	KindRelational Kind = "relational"
	KindDocument   Kind = "document"
)

// Client is a raw driver client for one database URL.
type Client interface {
	// Execute runs a structured operation.
	Execute(ctx context.Context, op *query.Operation) (*query.Result, error)
	// Raw runs an unstructured command, bypassing all interception hooks.
	Raw(ctx context.Context, cmd string, args ...any) (*query.Result, error)
	// Ping verifies the connection.
	Ping(ctx context.Context) error
	// Close releases the underlying connection pool.
	Close(ctx context.Context) error
}

// TxRunner is implemented by clients that support transactions. Callers
// without a TxRunner fall back to sequential execution.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Client) error) error
}

// Registry is the optional tenant registry exposed by an adapter. When
// unavailable, management operations fall back to scanning user tables.
type Registry interface {
	EnsureTenant(ctx context.Context, id string) error
	RemoveTenant(ctx context.Context, id string) error
	TenantExists(ctx context.Context, id string) (bool, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// Adapter constructs clients and exposes optional management hooks.
type Adapter interface {
	Kind() Kind
	// Client returns the (cached) client for url, connecting eagerly on
	// first use.
	Client(ctx context.Context, url string) (Client, error)
	// Registry returns the tenant registry for the client, if the backend
	// has one.
	Registry(c Client) (Registry, bool)
	// Evict closes and forgets the cached client for url, if any.
	Evict(ctx context.Context, url string) error
	// Close closes every cached client.
	Close(ctx context.Context) error
}

// Factory builds an adapter bound to a model registry.
type Factory func(reg *schema.Registry) Adapter

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
	kinds       = map[string]Kind{}
)

// Register installs a factory for a URL scheme. Called from adapter init
// functions and from tests registering fakes.
func Register(scheme string, kind Kind, f Factory) {
	factoriesMu.Lock()
	factories[scheme] = f
	kinds[scheme] = kind
	factoriesMu.Unlock()
	urlbuild.RegisterScheme(scheme)
}

// KindForScheme reports the adapter kind a scheme maps to.
func KindForScheme(scheme string) (Kind, bool) {
	factoriesMu.RLock()
	k, ok := kinds[scheme]
	factoriesMu.RUnlock()
	return k, ok
}

// ForScheme returns a new adapter for the URL scheme.
func ForScheme(scheme string, reg *schema.Registry) (Adapter, error) {
	factoriesMu.RLock()
	f, ok := factories[scheme]
	factoriesMu.RUnlock()
	if !ok {
		return nil, apierr.Configuration("no adapter registered for URL scheme %q", scheme)
	}
	return f(reg), nil
}

// Intercept installs hooks as a before-all pipeline on the client: every
// structured operation passes through the hooks, in order, before reaching
// the driver. Raw commands do not pass through the hooks.
func Intercept(c Client, hooks ...query.Hook) Client {
	return &intercepted{Client: c, hooks: hooks}
}

type intercepted struct {
	Client
	hooks []query.Hook
}

func (ic *intercepted) Execute(ctx context.Context, op *query.Operation) (*query.Result, error) {
	var err error
	for _, hook := range ic.hooks {
		if op, err = hook(op); err != nil {
			return nil, err
		}
	}
	return ic.Client.Execute(ctx, op)
}

// Unwrap returns the underlying raw client.
func (ic *intercepted) Unwrap() Client {
	return ic.Client
}

// Unwrap strips interception layers from a client.
func Unwrap(c Client) Client {
	for {
		u, ok := c.(interface{ Unwrap() Client })
		if !ok {
			return c
		}
		c = u.Unwrap()
	}
}
