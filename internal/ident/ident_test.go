package ident

import (
	"strings"
	"testing"

	"github.com/voiladb/voila/internal/apierr"
)

func TestValidateAccepts(t *testing.T) {
	for _, id := range []string{"acme", "Acme-01", "a", "t_1", strings.Repeat("x", 63)} {
		if err := Validate(id, KindTenant); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", id, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		id   string
		kind Kind
	}{
		{"empty", "", KindOrg},
		{"too long", strings.Repeat("x", 64), KindOrg},
		{"dot", "a.b", KindTenant},
		{"space", "a b", KindTenant},
		{"slash", "a/b", KindOrg},
		{"unicode", "café", KindTenant},
		{"reserved www", "www", KindTenant},
		{"reserved admin", "admin", KindTenant},
		{"reserved null", "null", KindTenant},
	}

	for _, tt := range tests {
		err := Validate(tt.id, tt.kind)
		if err == nil {
			t.Errorf("%s: Validate(%q) = nil, want error", tt.name, tt.id)
			continue
		}
		if !apierr.Is(err, apierr.KindInvalidID) {
			t.Errorf("%s: wrong error kind: %v", tt.name, err)
		}
		if e, _ := apierr.AsError(err); e.StatusCode() != 400 {
			t.Errorf("%s: status = %d, want 400", tt.name, e.StatusCode())
		}
	}
}

func TestReservedAllowedForOrgs(t *testing.T) {
	// Reserved names only collide with subdomains for tenants.
	if err := Validate("admin", KindOrg); err != nil {
		t.Errorf("Validate(admin, org) = %v, want nil", err)
	}
}

func TestCaseSensitive(t *testing.T) {
	// "WWW" is not the reserved "www"; identifiers are never normalized.
	if err := Validate("WWW", KindTenant); err != nil {
		t.Errorf("Validate(WWW) = %v, want nil", err)
	}
}
