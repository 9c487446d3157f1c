package scrapers

import (
	"context"

	"github.com/ternarybob/fabula/internal/models"
)

// Response is the raw result of a catalog fetch handed to Parse
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string // after redirects
}

// Scraper adapts one catalog site. Preprocess may rewrite the metadata URL
// (e.g. turn a product page URL into an API endpoint), Fetch performs the
// rate-limited HTTP request, and Parse extracts fields from the response.
// Scrapers may set metadata.Skip when the response is valid but unusable.
type Scraper interface {
	// Site returns the registry key for this scraper
	Site() string

	// Preprocess normalizes the source URL before fetching
	Preprocess(m *models.BookMetadata) error

	// Fetch retrieves the catalog payload for the metadata's URL
	Fetch(ctx context.Context, f *Fetcher, m *models.BookMetadata) (*Response, error)

	// Parse fills metadata fields from a fetched response
	Parse(m *models.BookMetadata, resp *Response) error
}
