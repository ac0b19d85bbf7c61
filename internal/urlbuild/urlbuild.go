// Package urlbuild derives per-organization database URLs from a base URL
// template.
package urlbuild

import (
	"net/url"
	"strings"

	"github.com/voiladb/voila/internal/apierr"
)

// Placeholder is the literal substituted with the organization id when it
// appears in a base URL.
const Placeholder = "{org}"

// knownSchemes are URL schemes the adapters understand.
var knownSchemes = map[string]bool{
	"postgres":    true,
	"postgresql":  true,
	"mongodb":     true,
	"mongodb+srv": true,
}

// extraSchemes holds schemes registered at runtime, e.g. by test adapters.
var extraSchemes = map[string]bool{}

// RegisterScheme marks a URL scheme as valid. Intended for adapter
// registration during init; not safe for concurrent use afterwards.
func RegisterScheme(scheme string) {
	extraSchemes[scheme] = true
}

// Scheme returns the scheme of rawURL, or an error when it cannot be parsed.
func Scheme(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "", apierr.Configuration("database URL %q has no scheme", rawURL)
	}
	return u.Scheme, nil
}

// Validate checks that rawURL parses and carries a known scheme.
func Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apierr.New(apierr.KindConfiguration, 500, "invalid database URL %q: %v", rawURL, err)
	}
	if !knownSchemes[u.Scheme] && !extraSchemes[u.Scheme] {
		return apierr.Configuration("unknown database URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return apierr.Configuration("database URL %q has no host", rawURL)
	}
	return nil
}

// Build derives the connection URL for an organization. When orgID is empty
// the base URL is returned unchanged. A base URL containing the {org}
// placeholder gets a literal substitution; otherwise the organization id is
// prefixed onto the final path segment (the database name).
func Build(baseURL, orgID string) (string, error) {
	if orgID == "" {
		return baseURL, nil
	}

	var built string
	if strings.Contains(baseURL, Placeholder) {
		built = strings.ReplaceAll(baseURL, Placeholder, orgID)
	} else {
		u, err := url.Parse(baseURL)
		if err != nil {
			return "", apierr.New(apierr.KindConfiguration, 500, "invalid database URL %q: %v", baseURL, err)
		}
		built = withOrgDatabase(u, orgID)
	}

	if err := Validate(built); err != nil {
		return "", err
	}
	return built, nil
}

// withOrgDatabase inserts "orgID_" before the final path segment of u.
func withOrgDatabase(u *url.URL, orgID string) string {
	path := u.Path
	if path == "" || path == "/" {
		u.Path = "/" + orgID
		return u.String()
	}

	idx := strings.LastIndex(path, "/")
	u.Path = path[:idx+1] + orgID + "_" + path[idx+1:]
	return u.String()
}
