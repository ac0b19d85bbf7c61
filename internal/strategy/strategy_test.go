package strategy

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/voiladb/voila/config"
	"github.com/voiladb/voila/internal/adapter/adaptertest"
	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/internal/resolver"
	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

func testRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	reg.Register(schema.Model{Name: "user", Columns: []string{"id", "email", "tenant_id"}})
	reg.Register(schema.Model{Name: "post", Columns: []string{"id", "title", "tenant_id"}})
	reg.Register(schema.Model{Name: "plan", Columns: []string{"id", "name"}})
	return reg
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:      "fake://h:1/db",
		TenantColumn: config.DefaultTenantColumn,
		Environment:  "production",
	}
}

func TestSharedConnectInjectsTenantPredicate(t *testing.T) {
	fake := adaptertest.New()
	s := NewShared(Options{
		Config:   testConfig(),
		Registry: testRegistry(),
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})

	conn, err := s.Connect(context.Background(), Scope{TenantID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if conn.URL != "fake://h:1/db" {
		t.Errorf("url = %q", conn.URL)
	}

	if _, err := conn.Client.Execute(context.Background(), &query.Operation{
		Model:  "user",
		Action: query.ActionFindMany,
	}); err != nil {
		t.Fatal(err)
	}

	mc, _ := fake.ClientFor("fake://h:1/db")
	op := mc.LastOp()
	if op.Where["tenant_id"] != "t1" {
		t.Errorf("effective where = %v, missing tenant predicate", op.Where)
	}
}

func TestSharedConnectWithoutTenantIsPassthrough(t *testing.T) {
	fake := adaptertest.New()
	s := NewShared(Options{
		Config:   testConfig(),
		Registry: testRegistry(),
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})

	conn, err := s.Connect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if conn.Client != conn.Base {
		t.Error("scope without tenant should not install an interception pipeline")
	}
}

func TestPerOrgConnectRoutesByOrg(t *testing.T) {
	fake := adaptertest.New()
	fake.RegisterScheme("fake")

	cfg := testConfig()
	cfg.BaseURL = "fake://h:1/{org}"
	cfg.OrgsEnabled = true

	p := NewPerOrg(Options{
		Config:   cfg,
		Registry: testRegistry(),
		Adapter:  fake,
		Resolver: resolver.New(resolver.Options{BaseURL: cfg.BaseURL, Logger: zap.NewNop()}),
		Logger:   zap.NewNop(),
	})

	acme, err := p.Connect(context.Background(), Scope{OrgID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if acme.URL != "fake://h:1/acme" {
		t.Errorf("url = %q", acme.URL)
	}

	zen, err := p.Connect(context.Background(), Scope{OrgID: "zen"})
	if err != nil {
		t.Fatal(err)
	}
	if zen.URL != "fake://h:1/zen" {
		t.Errorf("url = %q", zen.URL)
	}
	if acme.Base == zen.Base {
		t.Error("distinct orgs shared a client")
	}
	if fake.Builds != 2 {
		t.Errorf("builds = %d, want 2", fake.Builds)
	}
}

func TestTenantAdminWithRegistry(t *testing.T) {
	fake := adaptertest.New()
	fake.WithRegistry = true
	s := NewShared(Options{
		Config:   testConfig(),
		Registry: testRegistry(),
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()

	conn, err := s.Connect(ctx, Scope{})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.CreateTenant(ctx, conn, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTenant(ctx, conn, "t1"); !apierr.Is(err, apierr.KindConflict) {
		t.Errorf("second create err = %v, want conflict", err)
	}

	exists, err := s.TenantExists(ctx, conn, "t1")
	if err != nil || !exists {
		t.Errorf("exists = %v, %v", exists, err)
	}

	ids, err := s.ListTenants(ctx, conn)
	if err != nil || len(ids) != 1 || ids[0] != "t1" {
		t.Errorf("list = %v, %v", ids, err)
	}
}

func TestDeleteTenantRequiresConfirm(t *testing.T) {
	fake := adaptertest.New()
	s := NewShared(Options{
		Config:   testConfig(),
		Registry: testRegistry(),
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()

	conn, err := s.Connect(ctx, Scope{})
	if err != nil {
		t.Fatal(err)
	}
	mc, _ := fake.ClientFor("fake://h:1/db")
	mc.Seed("user", query.Record{"id": "1", "tenant_id": "t1"})

	if _, err := s.DeleteTenant(ctx, conn, "t1", false); !apierr.Is(err, apierr.KindAPIUsage) {
		t.Fatalf("err = %v, want api usage error", err)
	}
	if n := len(mc.Distinct("user", "tenant_id")); n != 1 {
		t.Error("unconfirmed delete mutated state")
	}
}

func TestDeleteTenantRemovesAllModels(t *testing.T) {
	fake := adaptertest.New()
	s := NewShared(Options{
		Config:   testConfig(),
		Registry: testRegistry(),
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()

	conn, err := s.Connect(ctx, Scope{})
	if err != nil {
		t.Fatal(err)
	}
	mc, _ := fake.ClientFor("fake://h:1/db")
	mc.Seed("user",
		query.Record{"id": "1", "tenant_id": "t1"},
		query.Record{"id": "2", "tenant_id": "t1"},
		query.Record{"id": "3", "tenant_id": "t2"})
	mc.Seed("post", query.Record{"id": "p1", "tenant_id": "t1"})
	mc.Seed("plan", query.Record{"id": "x", "name": "free"})

	n, err := s.DeleteTenant(ctx, conn, "t1", true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted %d rows, want 3", n)
	}
	if got := mc.Distinct("user", "tenant_id"); len(got) != 1 || got[0] != "t2" {
		t.Errorf("remaining user tenants = %v", got)
	}
	if got := mc.Distinct("plan", "name"); len(got) != 1 {
		t.Error("model without tenant column was touched")
	}
}

func TestTenantAdminScanFallback(t *testing.T) {
	fake := adaptertest.New()
	s := NewShared(Options{
		Config:   testConfig(),
		Registry: testRegistry(),
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()

	conn, err := s.Connect(ctx, Scope{})
	if err != nil {
		t.Fatal(err)
	}
	mc, _ := fake.ClientFor("fake://h:1/db")
	mc.Seed("user", query.Record{"id": "1", "tenant_id": "t1"})
	mc.Seed("post", query.Record{"id": "p1", "tenant_id": "t2"})

	exists, err := s.TenantExists(ctx, conn, "t1")
	if err != nil || !exists {
		t.Errorf("exists = %v, %v", exists, err)
	}
	exists, err = s.TenantExists(ctx, conn, "ghost")
	if err != nil || exists {
		t.Errorf("exists(ghost) = %v, %v", exists, err)
	}

	ids, err := s.ListTenants(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t2" {
		t.Errorf("list = %v", ids)
	}

	if err := s.CreateTenant(ctx, conn, "t1"); !apierr.Is(err, apierr.KindConflict) {
		t.Errorf("create existing err = %v, want conflict", err)
	}
}

func TestListOrgsMergesCacheAndLister(t *testing.T) {
	fake := adaptertest.New()
	fake.RegisterScheme("fake")

	cfg := testConfig()
	cfg.BaseURL = "fake://h:1/{org}"
	cfg.OrgsEnabled = true

	res := resolver.New(resolver.Options{BaseURL: cfg.BaseURL, Logger: zap.NewNop()})
	p := NewPerOrg(Options{
		Config:   cfg,
		Registry: testRegistry(),
		Adapter:  fake,
		Resolver: res,
		OrgLister: func(ctx context.Context) ([]string, error) {
			return []string{"zen", "hooli"}, nil
		},
		Logger: zap.NewNop(),
	})
	ctx := context.Background()

	if _, err := p.Connect(ctx, Scope{OrgID: "acme"}); err != nil {
		t.Fatal(err)
	}

	orgs, err := p.ListOrgs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"acme", "hooli", "zen"}
	if len(orgs) != 3 || orgs[0] != want[0] || orgs[1] != want[1] || orgs[2] != want[2] {
		t.Errorf("orgs = %v, want %v", orgs, want)
	}

	if err := p.DeleteOrg(ctx, "acme"); err != nil {
		t.Fatal(err)
	}
	orgs, _ = p.ListOrgs(ctx)
	for _, o := range orgs {
		if o == "acme" {
			t.Error("deleted org still listed from cache")
		}
	}
}
