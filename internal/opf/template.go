package opf

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/fabula/internal/models"
)

// Filename is the sidecar name expected and produced under a book folder
const Filename = "metadata.opf"

// DefaultTemplate is the built-in OPF template. Each placeholder token is
// substituted once; __GENRES__ expands to zero or more dc:subject entries.
const DefaultTemplate = `<?xml version="1.0" encoding="utf-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="uuid_id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>__TITLE__</dc:title>
    <dc:creator opf:role="aut">__AUTHOR__</dc:creator>
    <dc:description>__SUMMARY__</dc:description>
    <dc:publisher>__PUBLISHER__</dc:publisher>
    <dc:date>__PUBLISHYEAR__</dc:date>
    <dc:language>__LANGUAGE__</dc:language>
    <dc:identifier opf:scheme="ISBN">__ISBN__</dc:identifier>
    <dc:identifier opf:scheme="ASIN">__ASIN__</dc:identifier>
    <dc:source>__SOURCE__</dc:source>
    __GENRES__
    <meta name="calibre:series" content="__SERIES__"/>
    <meta name="calibre:series_index" content="__VOLUMENUMBER__"/>
    <meta name="fabula:subtitle" content="__SUBTITLE__"/>
    <meta name="fabula:narrator" content="__NARRATOR__"/>
  </metadata>
</package>
`

// escape XML-escapes a substituted value
func escape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return ""
	}
	return b.String()
}

// Render substitutes metadata values into the template. The template is
// written verbatim except for placeholder substitution; all values are
// XML-escaped.
func Render(template string, m *models.BookMetadata) string {
	genres := make([]string, 0, len(m.Genres))
	for _, genre := range m.Genres {
		genres = append(genres, fmt.Sprintf("<dc:subject>%s</dc:subject>", escape(genre)))
	}

	replacer := strings.NewReplacer(
		"__AUTHOR__", escape(m.Author),
		"__TITLE__", escape(m.Title),
		"__SUMMARY__", escape(m.Summary),
		"__SUBTITLE__", escape(m.Subtitle),
		"__NARRATOR__", escape(m.Narrator),
		"__PUBLISHER__", escape(m.Publisher),
		"__PUBLISHYEAR__", escape(m.PublishYearOrDate()),
		"__LANGUAGE__", escape(m.Language),
		"__ISBN__", escape(m.ISBN),
		"__ASIN__", escape(m.ASIN),
		"__SERIES__", escape(m.SeriesName),
		"__VOLUMENUMBER__", escape(m.VolumeNumber),
		"__SOURCE__", escape(m.URL),
		"__GENRES__", strings.Join(genres, "\n    "),
	)

	return replacer.Replace(template)
}

// LoadTemplate reads a template override from disk, falling back to the
// built-in template when path is empty
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read OPF template: %w", err)
	}
	return string(data), nil
}

// Write renders the template and writes metadata.opf into dir
func Write(dir, template string, m *models.BookMetadata) error {
	content := Render(template, m)
	path := filepath.Join(dir, Filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", Filename, err)
	}
	return nil
}
