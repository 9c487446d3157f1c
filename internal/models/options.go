package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var optionsValidator = validator.New()

// Options is the per-job configuration snapshot. It is serialized into the
// job row so a resumed job runs with the settings it started with, not the
// settings currently on disk.
type Options struct {
	Folders  []string `json:"folders,omitempty"`
	Output   string   `json:"output,omitempty" validate:"required_with=Copy Move"`
	BookRoot string   `json:"book_root,omitempty"`

	// Organization mode; neither set means in-place
	Copy bool `json:"copy,omitempty" validate:"excluded_with=Move"`
	Move bool `json:"move,omitempty"`

	DryRun bool `json:"dry_run,omitempty"`

	// Post-organize transforms
	Flatten bool `json:"flatten,omitempty"`
	Rename  bool `json:"rename,omitempty"`

	// Sidecar emission
	OPF     bool `json:"opf,omitempty"`
	InfoTxt bool `json:"infotxt,omitempty"`
	Cover   bool `json:"cover,omitempty"`

	ID3Tag bool `json:"id3_tag,omitempty"`
	Series bool `json:"series,omitempty"`

	FromOPF      bool `json:"from_opf,omitempty"`
	ForceRefresh bool `json:"force_refresh,omitempty"`

	Site string `json:"site,omitempty"` // single scraper name, or "all"

	AutoSearch    bool          `json:"auto_search,omitempty"`
	LLMSelect     bool          `json:"llm_select,omitempty"`
	SearchLimit   int           `json:"search_limit,omitempty" validate:"gte=0"`
	DownloadLimit int           `json:"download_limit,omitempty" validate:"gte=0"`
	SearchDelay   time.Duration `json:"search_delay,omitempty"`

	Workers int `json:"workers,omitempty" validate:"gte=0"`

	Resume   bool `json:"resume,omitempty"`
	NoResume bool `json:"no_resume,omitempty" validate:"excluded_with=Resume"`

	Yolo  bool `json:"yolo,omitempty"`
	Debug bool `json:"debug,omitempty"`
}

// Validate checks cross-field constraints before a job is created
func (o *Options) Validate() error {
	if o.Copy && o.Move {
		return fmt.Errorf("copy and move are mutually exclusive")
	}
	if (o.Copy || o.Move) && o.Output == "" {
		return fmt.Errorf("output directory is required with copy or move")
	}
	if o.Resume && o.NoResume {
		return fmt.Errorf("resume and no_resume are mutually exclusive")
	}
	if err := optionsValidator.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// WorkerCount returns the configured pool size, defaulting to 4
func (o *Options) WorkerCount() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return 4
}

// ToJSON serializes options for the job config blob
func (o *Options) ToJSON() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to serialize options: %w", err)
	}
	return string(data), nil
}

// OptionsFromJSON deserializes a job config blob
func OptionsFromJSON(data string) (*Options, error) {
	var o Options
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, fmt.Errorf("failed to deserialize options: %w", err)
	}
	return &o, nil
}
