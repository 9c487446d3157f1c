package audio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/models"
)

// Tagger embeds metadata into audio files. Only MP3 has tag writing
// implemented; other recognized extensions are skipped silently.
type Tagger struct {
	logger arbor.ILogger
}

// NewTagger creates a tagger
func NewTagger(logger arbor.ILogger) *Tagger {
	return &Tagger{logger: logger}
}

// TagDirectory tags every MP3 under dir with the book's metadata. Any file
// that fails to tag fails the whole operation; partial tagging of a book is
// worse than none.
func (t *Tagger) TagDirectory(dir string, m *models.BookMetadata) error {
	files, err := WalkAudioFiles(dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		if strings.ToLower(filepath.Ext(file)) != ".mp3" {
			continue
		}
		if err := t.tagFile(file, m); err != nil {
			return fmt.Errorf("failed to tag %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

// tagFile opens (or creates) the ID3v2 tag and sets the standard frames plus
// a comment carrying the identifiers and summary
func (t *Tagger) tagFile(path string, m *models.BookMetadata) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(m.Title)
	tag.SetArtist(m.Author)
	tag.SetAlbum(m.Title)
	if len(m.Genres) > 0 {
		tag.SetGenre(strings.Join(m.Genres, "; "))
	}
	if year := m.PublishYearOrDate(); year != "" {
		tag.SetYear(year)
	}

	language := m.Language
	if language == "" {
		language = "eng"
	}

	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    commentLanguage(language),
		Description: "COMMENT",
		Text:        fmt.Sprintf("ASIN: %s | ISBN: %s | %s", m.ASIN, m.ISBN, m.Summary),
	})

	if err := tag.Save(); err != nil {
		return err
	}

	t.logger.Debug().Str("file", filepath.Base(path)).Msg("Tags written")
	return nil
}

// commentLanguage coerces a language value into the 3-byte ISO 639-2 code the
// comment frame requires
func commentLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if len(lang) == 3 {
		return lang
	}
	// Common two-letter and full-name forms seen in catalog data
	switch lang {
	case "en", "english":
		return "eng"
	case "pl", "polish", "polski":
		return "pol"
	case "de", "german", "deutsch":
		return "deu"
	case "fr", "french":
		return "fra"
	case "es", "spanish":
		return "spa"
	}
	return "eng"
}
