package opf

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/fabula/internal/models"
)

// opfPackage mirrors the subset of the OPF schema the organizer reads back
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Metadata opfMetadata `xml:"metadata"`
}

type opfMetadata struct {
	Titles      []string        `xml:"title"`
	Creators    []opfCreator    `xml:"creator"`
	Description string          `xml:"description"`
	Publisher   string          `xml:"publisher"`
	Date        string          `xml:"date"`
	Language    string          `xml:"language"`
	Identifiers []opfIdentifier `xml:"identifier"`
	Source      string          `xml:"source"`
	Subjects    []string        `xml:"subject"`
	Metas       []opfMeta       `xml:"meta"`
}

type opfCreator struct {
	Role string `xml:"role,attr"`
	Name string `xml:",chardata"`
}

type opfIdentifier struct {
	Scheme string `xml:"scheme,attr"`
	Value  string `xml:",chardata"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

// Parse decodes OPF XML into BookMetadata
func Parse(data []byte) (*models.BookMetadata, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse OPF: %w", err)
	}

	m := &models.BookMetadata{
		Summary:   strings.TrimSpace(pkg.Metadata.Description),
		Publisher: strings.TrimSpace(pkg.Metadata.Publisher),
		Language:  strings.TrimSpace(pkg.Metadata.Language),
		URL:       strings.TrimSpace(pkg.Metadata.Source),
	}

	if len(pkg.Metadata.Titles) > 0 {
		m.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}

	date := strings.TrimSpace(pkg.Metadata.Date)
	if len(date) > 4 {
		m.PublishDate = date
	} else {
		m.PublishYear = date
	}

	for i, creator := range pkg.Metadata.Creators {
		name := strings.TrimSpace(creator.Name)
		if name == "" {
			continue
		}
		if i == 0 {
			m.Author = name
		} else {
			m.AdditionalAuthors = append(m.AdditionalAuthors, name)
		}
	}

	for _, ident := range pkg.Metadata.Identifiers {
		value := strings.TrimSpace(ident.Value)
		switch strings.ToUpper(ident.Scheme) {
		case "ISBN":
			m.ISBN = value
		case "ASIN":
			m.ASIN = value
		}
	}

	for _, subject := range pkg.Metadata.Subjects {
		if s := strings.TrimSpace(subject); s != "" {
			m.Genres = append(m.Genres, s)
		}
	}

	for _, meta := range pkg.Metadata.Metas {
		switch meta.Name {
		case "calibre:series":
			m.SeriesName = meta.Content
		case "calibre:series_index":
			m.VolumeNumber = meta.Content
		case "fabula:subtitle":
			m.Subtitle = meta.Content
		case "fabula:narrator":
			m.Narrator = meta.Content
		}
	}

	return m, nil
}

// ReadFromFolder loads and parses the metadata.opf under an audiobook folder
func ReadFromFolder(folder string) (*models.BookMetadata, error) {
	path := filepath.Join(folder, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.Folder = folder
	return m, nil
}
