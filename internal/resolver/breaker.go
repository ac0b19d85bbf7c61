package resolver

import (
	"sync"
	"time"
)

// failureRecord tracks consecutive resolution failures for one organization.
type failureRecord struct {
	consecutiveFailures int
	lastFailureAt       time.Time
	lastErr             error
	manualOpen          bool
}

// Breaker is the per-organization circuit breaker. It opens after
// failureThreshold consecutive failures and closes on any success.
type Breaker struct {
	mu        sync.Mutex
	records   map[string]*failureRecord
	threshold int
}

// BreakerState is a point-in-time view of one organization's circuit.
type BreakerState struct {
	Open                bool      `json:"open"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	LastError           string    `json:"last_error,omitempty"`
}

// NewBreaker creates a breaker with the given failure threshold.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{
		records:   make(map[string]*failureRecord),
		threshold: threshold,
	}
}

// Open reports whether the circuit for orgID is open.
func (b *Breaker) Open(orgID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[orgID]
	if !ok {
		return false
	}
	return rec.manualOpen || rec.consecutiveFailures >= b.threshold
}

// RecordFailure counts a failure and reports whether this failure opened the
// circuit.
func (b *Breaker) RecordFailure(orgID string, err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[orgID]
	if !ok {
		rec = &failureRecord{}
		b.records[orgID] = rec
	}
	rec.consecutiveFailures++
	rec.lastFailureAt = time.Now()
	rec.lastErr = err
	return rec.consecutiveFailures == b.threshold
}

// RecordSuccess resets the failure record; any success closes the circuit.
func (b *Breaker) RecordSuccess(orgID string) {
	b.mu.Lock()
	delete(b.records, orgID)
	b.mu.Unlock()
}

// Trip opens the circuit manually. Exposed for tests and operations.
func (b *Breaker) Trip(orgID string) {
	b.mu.Lock()
	rec, ok := b.records[orgID]
	if !ok {
		rec = &failureRecord{}
		b.records[orgID] = rec
	}
	rec.manualOpen = true
	rec.lastFailureAt = time.Now()
	b.mu.Unlock()
}

// Reset closes the circuit manually. Exposed for tests and operations.
func (b *Breaker) Reset(orgID string) {
	b.mu.Lock()
	delete(b.records, orgID)
	b.mu.Unlock()
}

// States returns the circuit state for every tracked organization.
func (b *Breaker) States() map[string]BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]BreakerState, len(b.records))
	for org, rec := range b.records {
		st := BreakerState{
			Open:                rec.manualOpen || rec.consecutiveFailures >= b.threshold,
			ConsecutiveFailures: rec.consecutiveFailures,
			LastFailureAt:       rec.lastFailureAt,
		}
		if rec.lastErr != nil {
			st.LastError = rec.lastErr.Error()
		}
		out[org] = st
	}
	return out
}

// Sweep purges failure records older than maxAge and returns the number
// removed. Manually opened circuits are kept.
func (b *Breaker) Sweep(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for org, rec := range b.records {
		if !rec.manualOpen && rec.lastFailureAt.Before(cutoff) {
			delete(b.records, org)
			removed++
		}
	}
	return removed
}
