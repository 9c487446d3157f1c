package scrapers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/fabula/internal/models"
)

const lubimyczytacFixture = `<!DOCTYPE html>
<html>
<head>
  <meta property="og:image" content="https://ecsmedia.pl/c/diuna-b-iext1234.jpg"/>
</head>
<body>
  <h1 class="book__title">
    Diuna
  </h1>
  <div class="author">
    <a class="link-name" href="/autor/1/frank-herbert">Frank Herbert</a>
  </div>
  <a class="book__category" href="/ksiazki/k/52/fantasy-science-fiction">fantasy, science fiction</a>
  <span class="d-none d-sm-block">
    <a href="/cykl/126/kroniki-diuny">Kroniki Diuny (tom 1)</a>
  </span>
  <div id="book-description">
    <div class="collapse-content">
      <p>Arrakis, zwana Diuną, to jedyne źródło melanżu we wszechświecie.</p>
    </div>
  </div>
  <div id="book-details">
    <dt>Wydawnictwo:</dt>
    <dd>Rebis</dd>
    <dt>Data wydania:</dt>
    <dd>2019-10-15</dd>
    <dt>ISBN:</dt>
    <dd>978-83-8062-689-9</dd>
  </div>
</body>
</html>`

func TestLubimyczytac_Parse(t *testing.T) {
	s := &LubimyczytacScraper{}
	m := &models.BookMetadata{URL: "https://lubimyczytac.pl/ksiazka/4871/diuna"}

	require.NoError(t, s.Parse(m, &Response{Body: []byte(lubimyczytacFixture)}))

	assert.False(t, m.Skip)
	assert.Equal(t, "Diuna", m.Title)
	assert.Equal(t, "Frank Herbert", m.Author)
	assert.Empty(t, m.AdditionalAuthors)
	assert.Equal(t, "polski", m.Language)
	assert.Equal(t, []string{"fantasy, science fiction"}, m.Genres)
	assert.Equal(t, "Kroniki Diuny", m.SeriesName)
	assert.Equal(t, "1", m.VolumeNumber)
	assert.Equal(t, "Arrakis, zwana Diuną, to jedyne źródło melanżu we wszechświecie.", m.Summary)
	assert.Equal(t, "Rebis", m.Publisher)
	assert.Equal(t, "2019-10-15", m.PublishDate)
	assert.Equal(t, "2019", m.PublishYear)
	assert.Equal(t, "9788380626899", m.ISBN, "hyphens stripped")
	assert.Equal(t, "https://ecsmedia.pl/c/diuna-b-iext1234.jpg", m.CoverURL)
}

func TestLubimyczytac_ParseMultiVolumeOmnibus(t *testing.T) {
	html := `<html><body>
	  <h1 class="book__title">Diuna. Wydanie zbiorcze</h1>
	  <div class="author"><a class="link-name" href="#">Frank Herbert</a></div>
	  <span class="d-none d-sm-block"><a href="/cykl/126/kroniki-diuny">Kroniki Diuny (tom 1,2)</a></span>
	</body></html>`

	s := &LubimyczytacScraper{}
	m := &models.BookMetadata{}
	require.NoError(t, s.Parse(m, &Response{Body: []byte(html)}))

	assert.Equal(t, "Kroniki Diuny", m.SeriesName)
	assert.Equal(t, "1,2", m.VolumeNumber)
}

func TestLubimyczytac_RemovedListingIsSkipped(t *testing.T) {
	// Removed books serve a 200 page without the book header
	html := `<html><body><div class="error">Ta książka została usunięta.</div></body></html>`

	s := &LubimyczytacScraper{}
	m := &models.BookMetadata{URL: "https://lubimyczytac.pl/ksiazka/1/usunieta"}
	require.NoError(t, s.Parse(m, &Response{Body: []byte(html)}))

	assert.True(t, m.Skip)
	assert.Empty(t, m.Title)
}

func TestLubimyczytac_PreprocessIsNoop(t *testing.T) {
	m := &models.BookMetadata{URL: "https://lubimyczytac.pl/ksiazka/4871/diuna"}
	require.NoError(t, (&LubimyczytacScraper{}).Preprocess(m))
	assert.Equal(t, "https://lubimyczytac.pl/ksiazka/4871/diuna", m.URL)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Frank Herbert", cleanText("  Frank \n\t Herbert  "))
	assert.Equal(t, "", cleanText("   \n  "))
}
