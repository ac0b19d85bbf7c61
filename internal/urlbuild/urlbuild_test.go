package urlbuild

import "testing"

func TestBuildNoOrg(t *testing.T) {
	got, err := Build("postgresql://h/db", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "postgresql://h/db" {
		t.Errorf("got %q, want base URL unchanged", got)
	}
}

func TestBuildPlaceholder(t *testing.T) {
	tests := []struct {
		base, org, want string
	}{
		{"postgresql://h/{org}", "acme", "postgresql://h/acme"},
		{"postgresql://h/{org}", "zen", "postgresql://h/zen"},
		{"mongodb://h/{org}_data", "acme", "mongodb://h/acme_data"},
	}
	for _, tt := range tests {
		got, err := Build(tt.base, tt.org)
		if err != nil {
			t.Errorf("Build(%q, %q): %v", tt.base, tt.org, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Build(%q, %q) = %q, want %q", tt.base, tt.org, got, tt.want)
		}
	}
}

func TestBuildDerivedDatabaseName(t *testing.T) {
	got, err := Build("postgresql://h:5432/appdb?sslmode=disable", "acme")
	if err != nil {
		t.Fatal(err)
	}
	want := "postgresql://h:5432/acme_appdb?sslmode=disable"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildEmptyPath(t *testing.T) {
	got, err := Build("postgresql://h:5432", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if got != "postgresql://h:5432/acme" {
		t.Errorf("got %q", got)
	}
}

func TestBuildRejectsUnknownScheme(t *testing.T) {
	if _, err := Build("ftp://h/{org}", "acme"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("postgresql://h/db"); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := Validate("bogus://h/db"); err == nil {
		t.Error("expected error for bogus scheme")
	}
	if err := Validate("postgresql:///nohost"); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestRegisterScheme(t *testing.T) {
	RegisterScheme("fake")
	if err := Validate("fake://h/db"); err != nil {
		t.Errorf("registered scheme rejected: %v", err)
	}
}
