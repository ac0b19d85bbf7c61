package connpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	key    string
	closed atomic.Bool
}

func TestGetBuildsOncePerKey(t *testing.T) {
	var builds atomic.Int64
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeConn{key: key}, nil
	}, nil)

	var wg sync.WaitGroup
	conns := make([]*fakeConn, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Get(context.Background(), "postgresql://db:5432/acme")
			if err != nil {
				t.Error(err)
				return
			}
			conns[i] = c
		}(i)
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Errorf("built %d times, want 1", builds.Load())
	}
	for i := 1; i < 10; i++ {
		if conns[i] != conns[0] {
			t.Fatal("concurrent gets returned different values")
		}
	}
}

func TestGetDistinctKeys(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, nil)

	a, _ := p.Get(context.Background(), "a")
	b, _ := p.Get(context.Background(), "b")
	if a == b {
		t.Error("distinct keys shared a value")
	}
	if p.Len() != 2 {
		t.Errorf("len = %d, want 2", p.Len())
	}
}

func TestGetBuildErrorNotCached(t *testing.T) {
	var builds atomic.Int64
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		builds.Add(1)
		return nil, errors.New("refused")
	}, nil)

	if _, err := p.Get(context.Background(), "a"); err == nil {
		t.Fatal("expected build error")
	}
	if _, err := p.Get(context.Background(), "a"); err == nil {
		t.Fatal("expected build error")
	}
	if builds.Load() != 2 {
		t.Errorf("built %d times, want 2 (failures are not cached)", builds.Load())
	}
	if p.Len() != 0 {
		t.Errorf("len = %d, want 0", p.Len())
	}
}

func TestEvictCloses(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, func(c *fakeConn) error {
		c.closed.Store(true)
		return nil
	})

	c, _ := p.Get(context.Background(), "a")
	if err := p.Evict("a"); err != nil {
		t.Fatal(err)
	}
	if !c.closed.Load() {
		t.Error("evicted conn not closed")
	}
	if err := p.Evict("missing"); err != nil {
		t.Errorf("evicting missing key: %v", err)
	}
}

func TestShutdownClosesAll(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, func(c *fakeConn) error {
		c.closed.Store(true)
		return nil
	})

	a, _ := p.Get(context.Background(), "a")
	b, _ := p.Get(context.Background(), "b")

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.closed.Load() || !b.closed.Load() {
		t.Error("shutdown left connections open")
	}
	if p.Len() != 0 {
		t.Errorf("len = %d after shutdown", p.Len())
	}
}

func TestShutdownHonorsDeadline(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, func(c *fakeConn) error {
		time.Sleep(time.Second)
		return nil
	})
	p.Get(context.Background(), "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestStatsTracksUsage(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, nil)

	p.Get(context.Background(), "a")
	p.Get(context.Background(), "a")
	p.Get(context.Background(), "a")

	stats := p.Stats()
	if len(stats) != 1 {
		t.Fatalf("stats = %v", stats)
	}
	if stats[0].UseCount != 3 {
		t.Errorf("use count = %d, want 3", stats[0].UseCount)
	}
}
