// Package target defines the per-domain records shared by the warming pipeline.
package target

import (
	"net/url"
	"sort"
	"strings"
)

// Identity is the network identity used to reach a domain: the label the run
// log attributes requests to, an optional proxy, and the user agent header.
// Domain carries the owning domain key so metrics can be joined across stages.
type Identity struct {
	Domain    string
	Label     string
	Proxy     string
	UserAgent string
}

// Domain identifies one site to warm. Values are immutable once configured.
type Domain struct {
	Key      string
	BaseURL  string
	Identity Identity
}

// Set maps a domain key to its Domain record.
type Set map[string]Domain

// Sorted returns the domains ordered by key.
func (s Set) Sorted() []Domain {
	out := make([]Domain, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Lookup finds a domain by key, ignoring case.
func (s Set) Lookup(key string) (Domain, bool) {
	d, ok := s[strings.ToLower(strings.TrimSpace(key))]
	return d, ok
}

// Join appends a path to the base URL, keeping any base path. The sitemap
// index lives at {base}{path} even when the base has a path of its own.
func (d Domain) Join(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(d.BaseURL, "/") + path
}

// Resolve resolves a sitemap location against the base URL per RFC 3986.
// Absolute references pass through; unparseable ones yield "".
func (d Domain) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	base, err := url.Parse(d.BaseURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}
