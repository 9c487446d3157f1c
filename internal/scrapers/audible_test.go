package scrapers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/fabula/internal/errkind"
	"github.com/ternarybob/fabula/internal/models"
)

const audibleFixture = `{
  "product": {
    "asin": "B002V0PN36",
    "title": "Dune",
    "subtitle": "Book One",
    "authors": [{"name": "Frank Herbert"}, {"name": "Kevin J. Anderson"}],
    "narrators": [{"name": "Scott Brick"}, {"name": "Orlagh Cassidy"}],
    "publisher_name": "Macmillan Audio",
    "release_date": "2006-12-31",
    "language": "english",
    "publisher_summary": "<p>Here is the <b>novel</b> that will be forever considered a triumph.</p>",
    "series": [
      {"title": "Dune Chronicles", "sequence": "1"},
      {"title": "Dune Universe", "sequence": "4"}
    ],
    "category_ladders": [
      {"ladder": [{"name": "Science Fiction & Fantasy"}, {"name": "Science Fiction"}]},
      {"ladder": [{"name": "Science Fiction & Fantasy"}, {"name": "Space Opera"}]}
    ],
    "product_images": {
      "252": "https://m.media-amazon.com/images/I/dune._SL252_.jpg",
      "500": "https://m.media-amazon.com/images/I/dune._SL500_.jpg"
    }
  }
}`

func TestAudible_Preprocess(t *testing.T) {
	s := &AudibleScraper{}

	m := &models.BookMetadata{URL: "https://www.audible.com/pd/Dune-Audiobook/B002V0PN36?ref=a_hp"}
	require.NoError(t, s.Preprocess(m))
	assert.Equal(t, "B002V0PN36", m.ASIN)
	assert.Contains(t, m.URL, audibleAPIBase+"/B002V0PN36")
	assert.Contains(t, m.URL, "response_groups=")

	// A known ASIN wins over the URL
	m = &models.BookMetadata{ASIN: "B000000000", URL: "https://www.audible.com/pd/B002V0PN36"}
	require.NoError(t, s.Preprocess(m))
	assert.Contains(t, m.URL, "/B000000000?")
}

func TestAudible_PreprocessNoASIN(t *testing.T) {
	s := &AudibleScraper{}
	m := &models.BookMetadata{URL: "https://www.audible.com/search?keywords=dune"}
	err := s.Preprocess(m)
	require.Error(t, err)
	assert.Equal(t, errkind.KindUnsupportedURL, errkind.KindOf(err))
}

func TestAudible_Parse(t *testing.T) {
	s := &AudibleScraper{}
	m := &models.BookMetadata{ASIN: "B002V0PN36"}

	require.NoError(t, s.Parse(m, &Response{Body: []byte(audibleFixture)}))

	assert.Equal(t, "Dune", m.Title)
	assert.Equal(t, "Book One", m.Subtitle)
	assert.Equal(t, "Frank Herbert", m.Author)
	assert.Equal(t, []string{"Kevin J. Anderson"}, m.AdditionalAuthors)
	assert.Equal(t, "Scott Brick", m.Narrator)
	assert.Equal(t, []string{"Orlagh Cassidy"}, m.AdditionalNarrators)
	assert.Equal(t, "Macmillan Audio", m.Publisher)
	assert.Equal(t, "2006-12-31", m.PublishDate)
	assert.Equal(t, "2006", m.PublishYear)
	assert.Equal(t, "english", m.Language)
	assert.Equal(t, "Here is the novel that will be forever considered a triumph.", m.Summary)
	assert.Equal(t, "Dune Chronicles", m.SeriesName)
	assert.Equal(t, "1", m.VolumeNumber)
	assert.Equal(t, []string{"Dune Universe"}, m.AdditionalSeries)
	assert.Equal(t, []string{"Science Fiction & Fantasy", "Science Fiction", "Space Opera"}, m.Genres,
		"ladder rungs deduplicated in first-seen order")
	assert.Equal(t, "https://m.media-amazon.com/images/I/dune._SL500_.jpg", m.CoverURL,
		"500px cover preferred")
}

func TestAudible_ParseInvalidPayloads(t *testing.T) {
	s := &AudibleScraper{}

	err := s.Parse(&models.BookMetadata{}, &Response{Body: []byte("not json")})
	require.Error(t, err)
	assert.Equal(t, errkind.KindParseError, errkind.KindOf(err))

	err = s.Parse(&models.BookMetadata{}, &Response{Body: []byte(`{"product": {}}`)})
	require.Error(t, err)
	assert.Equal(t, errkind.KindParseError, errkind.KindOf(err))
}
