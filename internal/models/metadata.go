package models

import (
	"encoding/json"
	"fmt"
)

// BookMetadata is the value carried through the pipeline. Fields are filled in
// progressively: identification by the discover stage, descriptive fields by a
// scraper or an existing OPF, FinalOutputPath by the organize stage. It moves
// through stages by value and is persisted only as a task result blob or an
// OPF sidecar.
type BookMetadata struct {
	// Identification
	Folder string `json:"folder,omitempty"`
	URL    string `json:"url,omitempty"`
	ASIN   string `json:"asin,omitempty"`
	ISBN   string `json:"isbn,omitempty"`

	// Descriptive
	Title       string `json:"title,omitempty"`
	Subtitle    string `json:"subtitle,omitempty"`
	Author      string `json:"author,omitempty"`
	Narrator    string `json:"narrator,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	PublishYear string `json:"publish_year,omitempty"`
	PublishDate string `json:"publish_date,omitempty"` // full date, preferred over year when set
	Language    string `json:"language,omitempty"`
	Summary     string `json:"summary,omitempty"`

	// Classification
	Genres []string `json:"genres,omitempty"`

	// Series
	SeriesName   string `json:"series_name,omitempty"`
	VolumeNumber string `json:"volume_number,omitempty"`

	// Multi-value companions
	AdditionalAuthors   []string `json:"additional_authors,omitempty"`
	AdditionalNarrators []string `json:"additional_narrators,omitempty"`
	AdditionalSeries    []string `json:"additional_series,omitempty"`

	// Media
	CoverURL string `json:"cover_url,omitempty"`

	// Output
	FinalOutputPath string `json:"final_output_path,omitempty"`

	// Status flags
	Failed          bool   `json:"failed,omitempty"`
	FailedException string `json:"failed_exception,omitempty"`
	Skip            bool   `json:"skip,omitempty"`
	TaskID          string `json:"task_id,omitempty"`
}

// ToJSON serializes the metadata for the task result blob
func (m *BookMetadata) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return string(data), nil
}

// MetadataFromJSON deserializes a task result blob
func MetadataFromJSON(data string) (*BookMetadata, error) {
	var m BookMetadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize metadata: %w", err)
	}
	return &m, nil
}

// PublishYearOrDate prefers the full date when present
func (m *BookMetadata) PublishYearOrDate() string {
	if m.PublishDate != "" {
		return m.PublishDate
	}
	return m.PublishYear
}
