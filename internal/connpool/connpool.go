// Package connpool caches expensive per-URL resources, typically database
// clients, keyed by connection string. Concurrent requests for the same key
// share a single construction.
package connpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Entry wraps a pooled value with usage bookkeeping.
type Entry[T any] struct {
	Value      T
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int64
}

// Stat is a read-only view of one pooled entry.
type Stat struct {
	Key        string    `json:"key"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UseCount   int64     `json:"use_count"`
}

// Pool caches values built by a constructor function. The zero value is not
// usable; create pools with New.
type Pool[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
	sf      singleflight.Group

	build   func(ctx context.Context, key string) (T, error)
	closeFn func(T) error
}

// New creates a pool. build constructs a value for a key on first use;
// closeFn releases it on eviction or shutdown (nil means no-op).
func New[T any](build func(ctx context.Context, key string) (T, error), closeFn func(T) error) *Pool[T] {
	if closeFn == nil {
		closeFn = func(T) error { return nil }
	}
	return &Pool[T]{
		entries: make(map[string]*Entry[T]),
		build:   build,
		closeFn: closeFn,
	}
}

// Get returns the value for key, constructing it on first use. Concurrent
// calls with the same key share one construction.
func (p *Pool[T]) Get(ctx context.Context, key string) (T, error) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.LastUsedAt = time.Now()
		e.UseCount++
		v := e.Value
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	v, err, _ := p.sf.Do(key, func() (any, error) {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok {
			p.mu.Unlock()
			return e.Value, nil
		}
		p.mu.Unlock()

		val, err := p.build(ctx, key)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		p.mu.Lock()
		p.entries[key] = &Entry[T]{Value: val, CreatedAt: now, LastUsedAt: now, UseCount: 1}
		p.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the value for key without constructing or touching it.
func (p *Pool[T]) Peek(key string) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.Value, true
	}
	var zero T
	return zero, false
}

// Len returns the number of pooled entries.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Keys returns all pooled keys, sorted.
func (p *Pool[T]) Keys() []string {
	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stats returns usage bookkeeping for every pooled entry, sorted by key.
func (p *Pool[T]) Stats() []Stat {
	p.mu.Lock()
	out := make([]Stat, 0, len(p.entries))
	for k, e := range p.entries {
		out = append(out, Stat{Key: k, CreatedAt: e.CreatedAt, LastUsedAt: e.LastUsedAt, UseCount: e.UseCount})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Evict removes and closes the entry for key. Returns the close error, or
// nil when the key was not pooled.
func (p *Pool[T]) Evict(key string) error {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.closeFn(e.Value)
}

// Shutdown closes every pooled entry concurrently. It returns when all
// closes finish or ctx expires, whichever comes first; on expiry the
// remaining closes keep running in the background.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*Entry[T])
	p.mu.Unlock()

	g := new(errgroup.Group)
	for key, e := range entries {
		key, e := key, e
		g.Go(func() error {
			if err := p.closeFn(e.Value); err != nil {
				return fmt.Errorf("close %s: %w", key, err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
