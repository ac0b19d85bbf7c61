package resolver

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics counts resolution outcomes. All counters are atomic so the hot
// path never takes a lock.
type Metrics struct {
	totalResolves       atomic.Int64
	cacheHits           atomic.Int64
	cacheMisses         atomic.Int64
	resolverSuccesses   atomic.Int64
	resolverFailures    atomic.Int64
	circuitBreakerTrips atomic.Int64
	fallbacks           atomic.Int64
	emergencyFallbacks  atomic.Int64

	avgMu          sync.Mutex
	avgResolveMs   float64
	avgInitialized bool
}

// observeDuration folds a resolve duration (in milliseconds) into the
// exponentially weighted moving average.
func (m *Metrics) observeDuration(ms float64) {
	m.avgMu.Lock()
	if !m.avgInitialized {
		m.avgResolveMs = ms
		m.avgInitialized = true
	} else {
		m.avgResolveMs = m.avgResolveMs*0.9 + ms*0.1
	}
	m.avgMu.Unlock()
}

// OrgAccess pairs an organization with its cache access count.
type OrgAccess struct {
	OrgID       string `json:"org_id"`
	AccessCount int64  `json:"access_count"`
}

// Snapshot is a point-in-time view of the resolver's counters.
type Snapshot struct {
	TotalResolves       int64                   `json:"total_resolves"`
	CacheHits           int64                   `json:"cache_hits"`
	CacheMisses         int64                   `json:"cache_misses"`
	HitRate             float64                 `json:"hit_rate"`
	ResolverSuccesses   int64                   `json:"resolver_successes"`
	ResolverFailures    int64                   `json:"resolver_failures"`
	CircuitBreakerTrips int64                   `json:"circuit_breaker_trips"`
	Fallbacks           int64                   `json:"fallbacks"`
	EmergencyFallbacks  int64                   `json:"emergency_fallbacks"`
	AvgResolveMs        float64                 `json:"avg_resolve_ms"`
	CacheSize           int                     `json:"cache_size"`
	TopOrgs             []OrgAccess             `json:"top_orgs,omitempty"`
	Circuits            map[string]BreakerState `json:"circuits,omitempty"`
}

func (m *Metrics) snapshot() Snapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	s := Snapshot{
		TotalResolves:       m.totalResolves.Load(),
		CacheHits:           hits,
		CacheMisses:         misses,
		ResolverSuccesses:   m.resolverSuccesses.Load(),
		ResolverFailures:    m.resolverFailures.Load(),
		CircuitBreakerTrips: m.circuitBreakerTrips.Load(),
		Fallbacks:           m.fallbacks.Load(),
		EmergencyFallbacks:  m.emergencyFallbacks.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	m.avgMu.Lock()
	s.AvgResolveMs = m.avgResolveMs
	m.avgMu.Unlock()
	return s
}

// Stats returns the resolver's counters, cache shape, and circuit states.
func (r *Resolver) Stats() Snapshot {
	s := r.metrics.snapshot()
	s.CacheSize = r.cache.Len()
	s.TopOrgs = r.TopOrgs(10)
	s.Circuits = r.breaker.States()
	return s
}

// TopOrgs returns the n most frequently accessed cached organizations.
func (r *Resolver) TopOrgs(n int) []OrgAccess {
	keys := r.cache.Keys()
	out := make([]OrgAccess, 0, len(keys))
	for _, k := range keys {
		if e, ok := r.cache.Peek(k); ok {
			out = append(out, OrgAccess{OrgID: k, AccessCount: e.accessCount.Load()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].OrgID < out[j].OrgID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// WritePrometheus writes the resolver's counters in Prometheus text
// exposition format.
func (r *Resolver) WritePrometheus(w io.Writer) {
	s := r.Stats()

	writeCounter := func(name, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n", name, value)
	}

	writeCounter("voila_resolver_resolves_total", "Total org URL resolutions.", s.TotalResolves)
	writeCounter("voila_resolver_cache_hits_total", "Resolutions served from cache.", s.CacheHits)
	writeCounter("voila_resolver_cache_misses_total", "Resolutions that missed cache.", s.CacheMisses)
	writeCounter("voila_resolver_hook_successes_total", "Successful resolver hook calls.", s.ResolverSuccesses)
	writeCounter("voila_resolver_hook_failures_total", "Failed resolver hook calls.", s.ResolverFailures)
	writeCounter("voila_resolver_circuit_trips_total", "Circuit breaker openings.", s.CircuitBreakerTrips)
	writeCounter("voila_resolver_fallbacks_total", "Resolutions served by template fallback.", s.Fallbacks)
	writeCounter("voila_resolver_emergency_fallbacks_total", "Resolutions served by emergency fallback.", s.EmergencyFallbacks)

	fmt.Fprintf(w, "# HELP voila_resolver_cache_size Cached org URLs.\n")
	fmt.Fprintf(w, "# TYPE voila_resolver_cache_size gauge\n")
	fmt.Fprintf(w, "voila_resolver_cache_size %d\n", s.CacheSize)

	fmt.Fprintf(w, "# HELP voila_resolver_avg_resolve_ms Moving average resolve latency in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE voila_resolver_avg_resolve_ms gauge\n")
	fmt.Fprintf(w, "voila_resolver_avg_resolve_ms %f\n", s.AvgResolveMs)

	open := 0
	for _, st := range s.Circuits {
		if st.Open {
			open++
		}
	}
	fmt.Fprintf(w, "# HELP voila_resolver_open_circuits Organizations with an open circuit.\n")
	fmt.Fprintf(w, "# TYPE voila_resolver_open_circuits gauge\n")
	fmt.Fprintf(w, "voila_resolver_open_circuits %d\n", open)
}
