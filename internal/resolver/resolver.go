// Package resolver turns organization ids into database connection URLs.
//
// Resolution prefers, in order: the in-process cache, the optional Redis
// look-aside tier, the caller-supplied hook (with retries and a per-org
// circuit breaker), the base-URL template, and finally an emergency URL.
// Resolve never fails because a backend is down; it degrades through the
// fallback chain instead.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voiladb/voila/internal/ident"
	"github.com/voiladb/voila/internal/logging"
	"github.com/voiladb/voila/internal/urlbuild"
)

// Source identifies where a resolved URL came from.
type Source string

const (
	SourceResolver  Source = "resolver"
	SourceTemplate  Source = "template"
	SourceEmergency Source = "emergency"
)

const (
	// DefaultTTL bounds how long a hook-resolved URL is served from cache.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxCacheSize bounds the in-process URL cache.
	DefaultMaxCacheSize = 1000

	// fallbackTTL is the shorter cache lifetime for template fallbacks so a
	// recovering hook is retried soon.
	fallbackTTL = 60 * time.Second

	attemptTimeout   = 10 * time.Second
	maxRetries       = 3
	failureThreshold = 5
	recordMaxAge     = time.Hour

	defaultEmergencyURL = "postgresql://localhost:5432/{org}_database"
)

// Hook resolves the database URL for an organization, typically by calling a
// control-plane service.
type Hook func(ctx context.Context, orgID string) (string, error)

type entry struct {
	url         string
	source      Source
	expiresAt   time.Time
	accessCount atomic.Int64
}

// Options configures a Resolver.
type Options struct {
	// BaseURL is the org database URL template; used directly when Hook is
	// nil and as the first fallback when the hook fails.
	BaseURL string
	// Hook resolves URLs dynamically. Optional.
	Hook Hook
	// TTL for hook-resolved URLs. Defaults to DefaultTTL.
	TTL time.Duration
	// MaxCacheSize bounds the local cache. Defaults to DefaultMaxCacheSize.
	MaxCacheSize int
	// EmergencyURL is the last-resort URL template. The {org} placeholder is
	// substituted with the organization id.
	EmergencyURL string
	// Redis enables a shared look-aside cache tier. Optional.
	Redis *redis.Client
	// Logger defaults to the global logger named "resolver".
	Logger *zap.Logger
}

// Resolver caches and resolves per-organization database URLs.
type Resolver struct {
	baseURL      string
	hook         Hook
	ttl          time.Duration
	max          int
	emergencyURL string

	cache   *lru.Cache[string, *entry]
	breaker *Breaker
	metrics Metrics
	tier    *redisTier
	log     *zap.Logger

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a Resolver. Options with zero values fall back to defaults.
func New(opts Options) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxCacheSize <= 0 {
		opts.MaxCacheSize = DefaultMaxCacheSize
	}
	if opts.EmergencyURL == "" {
		opts.EmergencyURL = defaultEmergencyURL
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("resolver")
	}

	cache, _ := lru.New[string, *entry](opts.MaxCacheSize)
	r := &Resolver{
		baseURL:      opts.BaseURL,
		hook:         opts.Hook,
		ttl:          opts.TTL,
		max:          opts.MaxCacheSize,
		emergencyURL: opts.EmergencyURL,
		cache:        cache,
		breaker:      NewBreaker(failureThreshold),
		log:          opts.Logger,
	}
	if opts.Redis != nil {
		r.tier = &redisTier{client: opts.Redis, log: opts.Logger}
	}
	return r
}

// Resolve returns the database URL for orgID and the source that produced
// it. The only errors surfaced are an invalid organization id and caller
// cancellation; backend failures degrade through the fallback chain.
func (r *Resolver) Resolve(ctx context.Context, orgID string) (string, Source, error) {
	if err := ident.Validate(orgID, ident.KindOrg); err != nil {
		return "", "", err
	}

	start := time.Now()
	r.metrics.totalResolves.Add(1)
	defer func() {
		r.metrics.observeDuration(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if e, ok := r.cache.Get(orgID); ok {
		if time.Now().Before(e.expiresAt) {
			e.accessCount.Add(1)
			r.metrics.cacheHits.Add(1)
			return e.url, e.source, nil
		}
		r.cache.Remove(orgID)
	}
	r.metrics.cacheMisses.Add(1)

	if r.tier != nil {
		if e, ok := r.tier.get(ctx, orgID); ok {
			e.accessCount.Add(1)
			r.insert(orgID, e)
			return e.url, e.source, nil
		}
	}

	if r.hook == nil {
		return r.fromTemplate(orgID)
	}

	if r.breaker.Open(orgID) {
		r.log.Warn("circuit open, skipping resolver hook", zap.String("org", orgID))
		return r.fallback(orgID, "circuit open")
	}

	resolved, err := r.invokeHook(ctx, orgID)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if opened := r.breaker.RecordFailure(orgID, err); opened {
			r.metrics.circuitBreakerTrips.Add(1)
			r.log.Warn("circuit opened for org",
				zap.String("org", orgID),
				zap.Int("threshold", failureThreshold),
				zap.Error(err))
		}
		r.metrics.resolverFailures.Add(1)
		r.log.Warn("resolver hook failed",
			zap.String("org", orgID),
			zap.Error(err))
		return r.fallback(orgID, "hook error")
	}

	if err := urlbuild.Validate(resolved); err != nil {
		r.breaker.RecordFailure(orgID, err)
		r.metrics.resolverFailures.Add(1)
		r.log.Error("resolver hook returned invalid URL",
			zap.String("org", orgID),
			zap.Error(err))
		return r.emergency(orgID)
	}

	r.breaker.RecordSuccess(orgID)
	r.metrics.resolverSuccesses.Add(1)

	e := &entry{url: resolved, source: SourceResolver, expiresAt: time.Now().Add(r.ttl)}
	r.insert(orgID, e)
	if r.tier != nil {
		r.tier.set(ctx, orgID, e, r.ttl)
	}
	return resolved, SourceResolver, nil
}

// invokeHook calls the hook with exponential backoff, 100ms doubling to a
// 1s cap, and a per-attempt timeout. Caller cancellation aborts retries.
func (r *Resolver) invokeHook(ctx context.Context, orgID string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	var resolved string
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		u, err := r.hook(attemptCtx, orgID)
		if err != nil {
			return err
		}
		resolved = u
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// fromTemplate serves the base-URL template as the authoritative source when
// no hook is configured. Entries get the full TTL.
func (r *Resolver) fromTemplate(orgID string) (string, Source, error) {
	built, err := urlbuild.Build(r.baseURL, orgID)
	if err != nil {
		r.log.Error("base URL template failed",
			zap.String("org", orgID),
			zap.Error(err))
		return r.emergency(orgID)
	}
	e := &entry{url: built, source: SourceTemplate, expiresAt: time.Now().Add(r.ttl)}
	r.insert(orgID, e)
	return built, SourceTemplate, nil
}

// fallback serves the base-URL template with a short TTL so the hook is
// retried once it recovers.
func (r *Resolver) fallback(orgID, reason string) (string, Source, error) {
	r.metrics.fallbacks.Add(1)

	built, err := urlbuild.Build(r.baseURL, orgID)
	if err != nil {
		return r.emergency(orgID)
	}

	r.log.Warn("serving template fallback",
		zap.String("org", orgID),
		zap.String("reason", reason))
	r.insert(orgID, &entry{url: built, source: SourceTemplate, expiresAt: time.Now().Add(fallbackTTL)})
	return built, SourceTemplate, nil
}

// emergency is the last resort. Never cached; every call logs.
func (r *Resolver) emergency(orgID string) (string, Source, error) {
	r.metrics.emergencyFallbacks.Add(1)
	built := strings.ReplaceAll(r.emergencyURL, urlbuild.Placeholder, orgID)
	r.log.Error("serving emergency fallback URL", zap.String("org", orgID))
	return built, SourceEmergency, nil
}

// insert adds an entry, first evicting the oldest tenth of the cache when
// full so insertions do not thrash one slot at a time.
func (r *Resolver) insert(orgID string, e *entry) {
	if !r.cache.Contains(orgID) && r.cache.Len() >= r.max {
		n := r.max / 10
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			if _, _, ok := r.cache.RemoveOldest(); !ok {
				break
			}
		}
	}
	r.cache.Add(orgID, e)
}

// Evict removes one organization's cached URL. Returns whether it was
// present.
func (r *Resolver) Evict(orgID string) bool {
	if r.tier != nil {
		r.tier.del(context.Background(), orgID)
	}
	return r.cache.Remove(orgID)
}

// ClearCache drops every cached URL. Circuit state is kept.
func (r *Resolver) ClearCache() {
	r.cache.Purge()
}

// CachedOrgs returns the ids of all organizations with a cached URL, sorted.
func (r *Resolver) CachedOrgs() []string {
	keys := r.cache.Keys()
	sort.Strings(keys)
	return keys
}

// TripCircuit opens the circuit for orgID so the hook is skipped.
func (r *Resolver) TripCircuit(orgID string) {
	r.breaker.Trip(orgID)
}

// ResetCircuit closes the circuit for orgID.
func (r *Resolver) ResetCircuit(orgID string) {
	r.breaker.Reset(orgID)
}

// StartSweeper launches the background goroutine that purges stale failure
// records. Safe to call once per resolver; stop with StopSweeper.
func (r *Resolver) StartSweeper(interval time.Duration) {
	if r.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = recordMaxAge
	}
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})

	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := r.breaker.Sweep(recordMaxAge); removed > 0 {
					r.log.Debug("swept stale failure records", zap.Int("removed", removed))
				}
			case <-r.sweepStop:
				return
			}
		}
	}()
}

// StopSweeper stops the sweeper goroutine and waits for it to exit.
func (r *Resolver) StopSweeper() {
	if r.sweepStop == nil {
		return
	}
	close(r.sweepStop)
	<-r.sweepDone
	r.sweepStop = nil
	r.sweepDone = nil
}
