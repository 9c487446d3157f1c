package scrapers

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/fabula/internal/errkind"
	"github.com/ternarybob/fabula/internal/models"
)

var (
	lubimyczytacURLPattern = regexp.MustCompile(`^https?://(www\.)?lubimyczytac\.pl/`)
	volumePattern          = regexp.MustCompile(`(?i)tom\s+([\d,-]+)`)
	isbnPattern            = regexp.MustCompile(`[\d][\d-]{8,16}[\dXx]`)
)

func lubimyczytacEntry() *Entry {
	return &Entry{
		Name:       "lubimyczytac",
		Domain:     "lubimyczytac.pl",
		URLPattern: lubimyczytacURLPattern,
		SearchURL: func(term string) string {
			return "https://lubimyczytac.pl/szukaj/ksiazki?phrase=" + strings.ReplaceAll(term, " ", "+")
		},
		Scraper: &LubimyczytacScraper{},
	}
}

// LubimyczytacScraper parses lubimyczytac.pl book pages. The site has no
// public API, so fields come straight off the HTML.
type LubimyczytacScraper struct{}

func (s *LubimyczytacScraper) Site() string { return "lubimyczytac" }

// Preprocess leaves the page URL as-is
func (s *LubimyczytacScraper) Preprocess(m *models.BookMetadata) error {
	return nil
}

func (s *LubimyczytacScraper) Fetch(ctx context.Context, f *Fetcher, m *models.BookMetadata) (*Response, error) {
	return f.Get(ctx, m.URL)
}

func (s *LubimyczytacScraper) Parse(m *models.BookMetadata, resp *Response) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return errkind.Errorf(errkind.KindParseError, "invalid HTML: %v", err)
	}

	title := cleanText(doc.Find("h1.book__title").First().Text())
	if title == "" {
		// Removed listings keep a 200 page without the book header
		m.Skip = true
		return nil
	}
	m.Title = title
	m.Language = "polski"

	doc.Find(".author a.link-name").Each(func(i int, sel *goquery.Selection) {
		name := cleanText(sel.Text())
		if name == "" {
			return
		}
		if i == 0 {
			m.Author = name
		} else {
			m.AdditionalAuthors = append(m.AdditionalAuthors, name)
		}
	})

	if genre := cleanText(doc.Find("a.book__category").First().Text()); genre != "" {
		m.Genres = append(m.Genres, genre)
	}

	if series := doc.Find("span.d-none.d-sm-block a").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		return strings.Contains(href, "/cykl/")
	}).First(); series.Length() > 0 {
		text := cleanText(series.Text())
		if match := volumePattern.FindStringSubmatch(text); match != nil {
			m.VolumeNumber = match[1]
			text = cleanText(volumePattern.ReplaceAllString(text, ""))
		}
		m.SeriesName = strings.TrimRight(text, " (")
	}

	if summary := cleanText(doc.Find("#book-description .collapse-content").First().Text()); summary != "" {
		m.Summary = summary
	} else if summary := cleanText(doc.Find("#book-description").First().Text()); summary != "" {
		m.Summary = summary
	}

	doc.Find("#book-details dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(cleanText(dt.Text()))
		value := cleanText(dt.Next().Text())
		switch {
		case strings.Contains(label, "isbn"):
			if match := isbnPattern.FindString(value); match != "" {
				m.ISBN = strings.ReplaceAll(match, "-", "")
			}
		case strings.Contains(label, "wydawnictwo"):
			m.Publisher = value
		case strings.Contains(label, "data wydania"):
			m.PublishDate = value
			if len(value) >= 4 {
				m.PublishYear = value[:4]
			}
		}
	})

	if m.Publisher == "" {
		m.Publisher = cleanText(doc.Find("a.book__publisher").First().Text())
	}

	if cover, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		m.CoverURL = cover
	}

	return nil
}

// cleanText collapses the whitespace runs the site's templating leaves behind
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
