package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	voila "github.com/voiladb/voila"
	"github.com/voiladb/voila/config"
	"github.com/voiladb/voila/internal/adapter/adaptertest"
	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/schema"
)

func testRouter(t *testing.T, cfg *config.Config) *voila.Router {
	t.Helper()
	fake := adaptertest.New()
	fake.RegisterScheme("fake")

	reg := schema.NewRegistry()
	reg.Register(schema.Model{Name: "user", Columns: []string{"id", "tenant_id"}})

	r, err := voila.NewRouter(voila.Options{
		Config:   cfg,
		Registry: reg,
		Adapter:  fake,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r
}

func tenantConfig() *config.Config {
	return &config.Config{
		BaseURL:        "fake://h:1/db",
		TenantsEnabled: true,
		TenantColumn:   config.DefaultTenantColumn,
		OrgCacheTTL:    time.Minute,
		Environment:    "production",
	}
}

func orgConfig() *config.Config {
	return &config.Config{
		BaseURL:      "fake://h:1/{org}",
		OrgsEnabled:  true,
		TenantColumn: config.DefaultTenantColumn,
		OrgCacheTTL:  time.Minute,
		Environment:  "production",
	}
}

func newMW(t *testing.T, cfg *config.Config, opts Options) *Middleware {
	t.Helper()
	opts.Router = testRouter(t, cfg)
	opts.Logger = zap.NewNop()
	m, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestResolveFromHeader(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	res, err := m.Resolve(context.Background(), &Request{
		Headers: map[string]string{"x-tenant-id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != "t1" || res.Handle == nil {
		t.Errorf("result = %+v", res)
	}
	if res.Handle.TenantID() != "t1" {
		t.Errorf("handle tenant = %q", res.Handle.TenantID())
	}
}

func TestExtractionPriority(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{
		Extractor: func(req *Request) (string, string) {
			if v := req.Headers["x-api-key-tenant"]; v != "" {
				return "", v
			}
			return "", ""
		},
	})

	// Custom hook wins over every built-in source.
	res, err := m.Resolve(context.Background(), &Request{
		Headers: map[string]string{
			"x-api-key-tenant": "hook",
			"x-tenant-id":      "header",
		},
		QueryParams: map[string]string{"tenantId": "query"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != "hook" {
		t.Errorf("tenant = %q, want hook extraction", res.TenantID)
	}

	// Header beats path, query, body, user context.
	res, err = m.Resolve(context.Background(), &Request{
		Headers:     map[string]string{"X-Tenant-Id": "header"},
		PathParams:  map[string]string{"tenantId": "path"},
		QueryParams: map[string]string{"tenantId": "query"},
		Body:        map[string]any{"tenantId": "body"},
		UserContext: map[string]any{"tenantId": "user"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != "header" {
		t.Errorf("tenant = %q, want header", res.TenantID)
	}

	// Path beats query.
	res, err = m.Resolve(context.Background(), &Request{
		PathParams:  map[string]string{"tenantId": "path"},
		QueryParams: map[string]string{"tenantId": "query"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != "path" {
		t.Errorf("tenant = %q, want path", res.TenantID)
	}

	// User context is the last structured source.
	res, err = m.Resolve(context.Background(), &Request{
		UserContext: map[string]any{"tenantId": "user"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != "user" {
		t.Errorf("tenant = %q, want user context", res.TenantID)
	}
}

func TestSubdomainExtraction(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	res, err := m.Resolve(context.Background(), &Request{Host: "t9.example.com:8443"})
	if err != nil {
		t.Fatal(err)
	}
	if res.TenantID != "t9" {
		t.Errorf("tenant = %q, want subdomain", res.TenantID)
	}

	// Reserved subdomains never become identifiers.
	_, err = m.Resolve(context.Background(), &Request{Host: "www.example.com"})
	if !apierr.Is(err, apierr.KindAPIUsage) {
		t.Errorf("err = %v, want missing-tenant error", err)
	}
}

func TestSubdomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"acme.example.com", "acme"},
		{"acme.example.com:443", "acme"},
		{"example.com", ""},
		{"localhost", ""},
		{"localhost:3000", ""},
		{"www.example.com", ""},
		{"api.example.com", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Subdomain(tc.host); got != tc.want {
			t.Errorf("Subdomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestMissingRequiredID(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	_, err := m.Resolve(context.Background(), &Request{})
	e, ok := apierr.AsError(err)
	if !ok || e.Kind != apierr.KindAPIUsage || e.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 api usage", err)
	}
	if e.RequestID == "" {
		t.Error("error has no request id")
	}
	for _, source := range []string{"x-tenant-id", "tenantId", "subdomain"} {
		if !strings.Contains(e.Message, source) {
			t.Errorf("message %q does not mention %s", e.Message, source)
		}
	}
}

func TestInvalidExtractedID(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	_, err := m.Resolve(context.Background(), &Request{
		Headers: map[string]string{"x-tenant-id": "bad id!"},
	})
	if !apierr.Is(err, apierr.KindInvalidID) {
		t.Errorf("err = %v, want invalid id", err)
	}
}

func TestOrgFromSubdomain(t *testing.T) {
	m := newMW(t, orgConfig(), Options{})

	res, err := m.Resolve(context.Background(), &Request{Host: "acme.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OrgID != "acme" {
		t.Errorf("org = %q", res.OrgID)
	}
	if res.Handle.URL() != "fake://h:1/acme" {
		t.Errorf("handle url = %q", res.Handle.URL())
	}
}

func TestSwitchTenant(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	res, err := m.Resolve(context.Background(), &Request{
		Headers: map[string]string{"x-tenant-id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	first := res.Handle

	h, err := res.SwitchTenant(context.Background(), "t2")
	if err != nil {
		t.Fatal(err)
	}
	if h == first {
		t.Error("switch returned the old handle")
	}
	if res.TenantID != "t2" || res.Handle != h {
		t.Errorf("result not updated: %+v", res)
	}
}

func TestHTTPHandler(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	var saw *Result
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		saw, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/things", nil)
	req.Header.Set("x-tenant-id", "t1")
	rec := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if saw == nil || saw.TenantID != "t1" {
		t.Errorf("context result = %+v", saw)
	}
}

func TestHTTPHandlerError(t *testing.T) {
	m := newMW(t, tenantConfig(), Options{})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/things", nil)
	rec := httptest.NewRecorder()
	m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("next handler ran on failed extraction")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}
