package scrapers

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/ternarybob/fabula/internal/errkind"
)

// Entry describes one catalog site in the registry
type Entry struct {
	Name       string
	Domain     string
	URLPattern *regexp.Regexp
	SearchURL  func(term string) string
	Scraper    Scraper
}

// Registry maps source URLs onto site scrapers. The table is static; the
// optional site restriction narrows it to one entry for runs pinned to a
// single catalog.
type Registry struct {
	entries map[string]*Entry
}

// NewRegistry builds the registry with every known catalog site
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]*Entry)}
	r.register(audibleEntry())
	r.register(lubimyczytacEntry())
	return r
}

func (r *Registry) register(e *Entry) {
	r.entries[e.Name] = e
}

// Restrict narrows the registry to a single site. The value "all" (or empty)
// leaves the registry unchanged.
func (r *Registry) Restrict(site string) error {
	if site == "" || site == "all" {
		return nil
	}
	entry, ok := r.entries[site]
	if !ok {
		return fmt.Errorf("unknown site %q (known: %v)", site, r.Sites())
	}
	r.entries = map[string]*Entry{site: entry}
	return nil
}

// ForURL resolves the scraper responsible for a source URL. A URL no entry
// claims fails with the unsupported-URL classification.
func (r *Registry) ForURL(rawURL string) (Scraper, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, errkind.Errorf(errkind.KindUnsupportedURL, "not a valid source URL: %q", rawURL)
	}

	for _, entry := range r.entries {
		if entry.URLPattern.MatchString(rawURL) {
			return entry.Scraper, nil
		}
	}
	return nil, errkind.Errorf(errkind.KindUnsupportedURL, "no scraper matches %s", rawURL)
}

// Get returns a site's entry by name
func (r *Registry) Get(site string) (*Entry, bool) {
	entry, ok := r.entries[site]
	return entry, ok
}

// Sites lists the registered site names in stable order
func (r *Registry) Sites() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
