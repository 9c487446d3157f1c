package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ternarybob/fabula/internal/errkind"
	"github.com/ternarybob/fabula/internal/models"
)

const audibleAPIBase = "https://api.audible.com/1.0/catalog/products"

var (
	audibleURLPattern  = regexp.MustCompile(`^https?://(www\.)?(audible\.(com|co\.uk|de|fr)|api\.audible\.com)/`)
	audibleASINPattern = regexp.MustCompile(`/([A-Z0-9]{10})(?:[/?]|$)`)
	htmlTagPattern     = regexp.MustCompile(`<[^>]*>`)
)

func audibleEntry() *Entry {
	return &Entry{
		Name:       "audible",
		Domain:     "audible.com",
		URLPattern: audibleURLPattern,
		SearchURL: func(term string) string {
			return "https://www.audible.com/search?keywords=" + url.QueryEscape(term)
		},
		Scraper: &AudibleScraper{},
	}
}

// AudibleScraper reads the Audible catalog API. Product pages are rewritten
// to API endpoints during preprocessing so both page and API URLs work as a
// task source.
type AudibleScraper struct{}

func (s *AudibleScraper) Site() string { return "audible" }

// Preprocess extracts the ASIN from the source URL and rewrites it to the
// catalog API endpoint
func (s *AudibleScraper) Preprocess(m *models.BookMetadata) error {
	asin := m.ASIN
	if asin == "" {
		match := audibleASINPattern.FindStringSubmatch(m.URL)
		if match == nil {
			return errkind.Errorf(errkind.KindUnsupportedURL, "no ASIN in Audible URL %s", m.URL)
		}
		asin = match[1]
	}

	m.ASIN = asin
	m.URL = fmt.Sprintf("%s/%s?response_groups=%s", audibleAPIBase, asin,
		url.QueryEscape("media,product_desc,product_extended_attrs,product_attrs,series,category_ladders,contributors"))
	return nil
}

func (s *AudibleScraper) Fetch(ctx context.Context, f *Fetcher, m *models.BookMetadata) (*Response, error) {
	return f.Get(ctx, m.URL)
}

// audibleProduct mirrors the catalog API response shape, limited to the
// fields the pipeline uses
type audibleProduct struct {
	Product struct {
		ASIN     string `json:"asin"`
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"`
		Authors  []struct {
			Name string `json:"name"`
		} `json:"authors"`
		Narrators []struct {
			Name string `json:"name"`
		} `json:"narrators"`
		PublisherName    string `json:"publisher_name"`
		ReleaseDate      string `json:"release_date"`
		Language         string `json:"language"`
		PublisherSummary string `json:"publisher_summary"`
		Series           []struct {
			Title    string `json:"title"`
			Sequence string `json:"sequence"`
		} `json:"series"`
		CategoryLadders []struct {
			Ladder []struct {
				Name string `json:"name"`
			} `json:"ladder"`
		} `json:"category_ladders"`
		ProductImages map[string]string `json:"product_images"`
	} `json:"product"`
}

func (s *AudibleScraper) Parse(m *models.BookMetadata, resp *Response) error {
	var payload audibleProduct
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return errkind.Errorf(errkind.KindParseError, "invalid Audible API response: %v", err)
	}

	p := payload.Product
	if p.Title == "" {
		return errkind.Errorf(errkind.KindParseError, "Audible product %s has no title", m.ASIN)
	}

	m.Title = p.Title
	m.Subtitle = p.Subtitle
	if p.ASIN != "" {
		m.ASIN = p.ASIN
	}
	m.Publisher = p.PublisherName
	m.PublishDate = p.ReleaseDate
	if len(p.ReleaseDate) >= 4 {
		m.PublishYear = p.ReleaseDate[:4]
	}
	m.Language = p.Language
	m.Summary = strings.TrimSpace(htmlTagPattern.ReplaceAllString(p.PublisherSummary, ""))

	for i, author := range p.Authors {
		if i == 0 {
			m.Author = author.Name
		} else {
			m.AdditionalAuthors = append(m.AdditionalAuthors, author.Name)
		}
	}
	for i, narrator := range p.Narrators {
		if i == 0 {
			m.Narrator = narrator.Name
		} else {
			m.AdditionalNarrators = append(m.AdditionalNarrators, narrator.Name)
		}
	}

	for i, series := range p.Series {
		if i == 0 {
			m.SeriesName = series.Title
			m.VolumeNumber = series.Sequence
		} else {
			m.AdditionalSeries = append(m.AdditionalSeries, series.Title)
		}
	}

	seen := make(map[string]bool)
	for _, ladder := range p.CategoryLadders {
		for _, rung := range ladder.Ladder {
			if rung.Name != "" && !seen[rung.Name] {
				seen[rung.Name] = true
				m.Genres = append(m.Genres, rung.Name)
			}
		}
	}

	for _, size := range []string{"500", "1024", "252"} {
		if cover, ok := p.ProductImages[size]; ok && cover != "" {
			m.CoverURL = cover
			break
		}
	}

	return nil
}
