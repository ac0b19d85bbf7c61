// Package ident canonicalizes and validates organization and tenant
// identifiers. Identifiers are opaque, case-sensitive and never normalized.
package ident

import (
	"regexp"

	"github.com/voiladb/voila/internal/apierr"
)

// Kind distinguishes organization identifiers from tenant identifiers.
type Kind string

const (
	KindOrg    Kind = "organization"
	KindTenant Kind = "tenant"
)

// MaxLength is the maximum identifier length in code units.
const MaxLength = 63

var pattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reserved identifiers are rejected for tenant IDs to prevent subdomain
// collisions.
var reserved = map[string]bool{
	"www":   true,
	"api":   true,
	"admin": true,
	"app":   true,
	"mail":  true,
	"ftp":   true,
	"null":  true,
}

// Validate checks an identifier against the length, pattern, and reserved
// name rules. It is pure and side-effect free.
func Validate(id string, kind Kind) error {
	if id == "" {
		return apierr.InvalidID("%s id must not be empty", kind)
	}
	if len(id) > MaxLength {
		return apierr.InvalidID("%s id %q exceeds %d characters", kind, id, MaxLength)
	}
	if !pattern.MatchString(id) {
		return apierr.InvalidID("%s id %q must match [A-Za-z0-9_-]+", kind, id)
	}
	if kind == KindTenant && reserved[id] {
		return apierr.InvalidID("tenant id %q is reserved", id)
	}
	return nil
}

// IsReserved reports whether id is a reserved identifier. Used by the
// middleware to skip reserved subdomains during extraction.
func IsReserved(id string) bool {
	return reserved[id]
}
