package voila

import (
	"context"
	"sync"

	"github.com/voiladb/voila/config"
	"github.com/voiladb/voila/internal/logging"
)

// The default router is process-wide so repeated calls with the same scope
// return the same handle anywhere in the application. Instance-based
// construction via NewRouter is equally supported.
var (
	defaultMu sync.Mutex
	defaultR  *Router
)

// Init builds the default router. The first call wins; later calls return
// the existing router. Applications that want explicit wiring use
// NewRouter instead.
func Init(opts Options) (*Router, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return initLocked(opts)
}

func initLocked(opts Options) (*Router, error) {
	if defaultR != nil {
		return defaultR, nil
	}

	if opts.Config == nil {
		cfg, err := config.Resolve()
		if err != nil {
			return nil, err
		}
		opts.Config = cfg
	}
	if opts.Logger == nil {
		if l, err := logging.New(opts.Config.Environment); err == nil {
			logging.SetGlobal(l)
		}
	}

	r, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	defaultR = r
	return r, nil
}

// Default returns the default router, initializing it from the environment
// on first use.
func Default() (*Router, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return initLocked(Options{})
}

// Get returns a handle from the default router.
func Get(ctx context.Context) (*Handle, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.Get(ctx)
}

// Tenant returns a tenant-scoped handle from the default router.
func Tenant(ctx context.Context, id string) (*Handle, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.Tenant(ctx, id)
}

// Org returns an organization builder from the default router.
func Org(id string) *OrgBuilder {
	r, err := Default()
	if err != nil {
		return &OrgBuilder{err: err}
	}
	return r.Org(id)
}

// ClearCache drops the default router's cached handles and resolver
// entries.
func ClearCache(ctx context.Context) error {
	defaultMu.Lock()
	r := defaultR
	defaultMu.Unlock()
	if r == nil {
		return nil
	}
	return r.ClearCache(ctx)
}

// Shutdown closes the default router and forgets it.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	r := defaultR
	defaultR = nil
	defaultMu.Unlock()
	if r == nil {
		return nil
	}
	return r.Shutdown(ctx)
}

// Reset forgets the default router and the cached configuration without
// closing connections. Intended for tests.
func Reset() {
	defaultMu.Lock()
	defaultR = nil
	defaultMu.Unlock()
	config.Reset()
}
