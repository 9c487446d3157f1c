package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/audio"
	"github.com/ternarybob/fabula/internal/genres"
	"github.com/ternarybob/fabula/internal/locks"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/opf"
	"github.com/ternarybob/fabula/internal/scrapers"
)

// CancelCheck reports whether the owning job has been cancelled. The job row
// in the store is the cancel token; workers poll it between stages.
type CancelCheck func(ctx context.Context, jobID string) bool

// Pipeline runs one task end to end: resolve the metadata source, scrape,
// normalize genres, organize on disk, and emit sidecars and tags. Stages run
// sequentially and any stage may short-circuit the task into failed or
// skipped. Cancellation is cooperative at stage boundaries; a stage that has
// started its filesystem work finishes it.
type Pipeline struct {
	locks       *locks.Manager
	fetcher     *scrapers.Fetcher
	registry    *scrapers.Registry
	normalizer  *genres.Normalizer
	tagger      *audio.Tagger
	opfTemplate string
	logger      arbor.ILogger
	cancelled   CancelCheck
}

// New assembles a pipeline from its collaborators
func New(lockMgr *locks.Manager, fetcher *scrapers.Fetcher, registry *scrapers.Registry,
	normalizer *genres.Normalizer, tagger *audio.Tagger, opfTemplate string,
	logger arbor.ILogger, cancelled CancelCheck) *Pipeline {
	return &Pipeline{
		locks:       lockMgr,
		fetcher:     fetcher,
		registry:    registry,
		normalizer:  normalizer,
		tagger:      tagger,
		opfTemplate: opfTemplate,
		logger:      logger,
		cancelled:   cancelled,
	}
}

// Run processes a task under its job's option snapshot and returns the final
// metadata. A nil error with metadata.Skip set means the task is skipped, not
// completed.
func (p *Pipeline) Run(ctx context.Context, task *models.Task, opts *models.Options) (*models.BookMetadata, error) {
	log := p.logger.WithCorrelationId(task.ID)

	m, err := p.resolveSource(ctx, task, opts, log)
	if err != nil {
		return nil, err
	}
	if m.Skip {
		log.Info().Str("folder", task.FolderPath).Msg("Source unusable, skipping task")
		return m, nil
	}
	m.TaskID = task.ID

	if err := p.checkCancel(ctx, task.JobID); err != nil {
		return nil, err
	}

	if len(m.Genres) > 0 {
		normalized, err := p.normalizer.Normalize(ctx, m.Genres)
		if err != nil {
			return nil, NewError(KindLLMError, err)
		}
		m.Genres = normalized
	}

	if err := p.checkCancel(ctx, task.JobID); err != nil {
		return nil, err
	}

	if err := p.organize(ctx, task, opts, m, log); err != nil {
		return nil, err
	}

	if err := p.checkCancel(ctx, task.JobID); err != nil {
		return nil, err
	}

	if opts.Flatten {
		if err := p.flatten(opts, m, log); err != nil {
			return nil, err
		}
	}

	if opts.Rename {
		if err := p.renameTracks(opts, m, log); err != nil {
			return nil, err
		}
	}

	if err := p.checkCancel(ctx, task.JobID); err != nil {
		return nil, err
	}

	if err := p.writeSidecars(ctx, opts, m, log); err != nil {
		return nil, err
	}

	if opts.ID3Tag && !opts.DryRun {
		if err := p.tagger.TagDirectory(m.FinalOutputPath, m); err != nil {
			return nil, NewError(KindTagError, err)
		}
	}

	log.Info().Str("output", m.FinalOutputPath).Msg("Task pipeline finished")
	return m, nil
}

// resolveSource produces the book metadata either from the folder's existing
// metadata.opf or by scraping the task's source URL
func (p *Pipeline) resolveSource(ctx context.Context, task *models.Task, opts *models.Options, log arbor.ILogger) (*models.BookMetadata, error) {
	if task.URL != models.OPFSourceMarker {
		if task.URL == "" {
			return nil, Errorf(KindSourceNotFound, "task has no source URL for %s", task.FolderPath)
		}
		m := &models.BookMetadata{Folder: task.FolderPath, URL: task.URL}
		if err := p.scrape(ctx, m, log); err != nil {
			return nil, err
		}
		return m, nil
	}

	existing, err := opf.ReadFromFolder(task.FolderPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Errorf(KindSourceNotFound, "no %s under %s", opf.Filename, task.FolderPath)
		}
		return nil, NewError(KindParseError, err)
	}

	switch {
	case opts.ForceRefresh:
		// Refresh discards the OPF values in favor of a fresh scrape of its
		// recorded source
		if existing.URL == "" {
			return nil, Errorf(KindSourceNotFound, "force refresh requested but %s under %s has no dc:source", opf.Filename, task.FolderPath)
		}
		fresh := &models.BookMetadata{Folder: task.FolderPath, URL: existing.URL}
		if err := p.scrape(ctx, fresh, log); err != nil {
			return nil, err
		}
		return fresh, nil

	case existing.URL != "":
		// Supplement: scrape the recorded source and fill only the fields the
		// OPF left empty
		scraped := &models.BookMetadata{Folder: task.FolderPath, URL: existing.URL}
		if err := p.scrape(ctx, scraped, log); err != nil {
			return nil, err
		}
		if scraped.Skip {
			return existing, nil
		}
		mergeMissing(existing, scraped)
		return existing, nil

	default:
		return existing, nil
	}
}

// scrape resolves the URL's scraper, fetches, and parses in place
func (p *Pipeline) scrape(ctx context.Context, m *models.BookMetadata, log arbor.ILogger) error {
	scraper, err := p.registry.ForURL(m.URL)
	if err != nil {
		return err
	}

	if err := scraper.Preprocess(m); err != nil {
		return err
	}

	log.Debug().Str("site", scraper.Site()).Str("url", m.URL).Msg("Fetching catalog source")
	resp, err := scraper.Fetch(ctx, p.fetcher, m)
	if err != nil {
		return err
	}

	if err := scraper.Parse(m, resp); err != nil {
		return err
	}
	return nil
}

// mergeMissing copies scraped values into dst only where dst is empty; the
// existing OPF wins on every field it already has
func mergeMissing(dst, src *models.BookMetadata) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Subtitle == "" {
		dst.Subtitle = src.Subtitle
	}
	if dst.Author == "" {
		dst.Author = src.Author
		dst.AdditionalAuthors = src.AdditionalAuthors
	}
	if dst.Narrator == "" {
		dst.Narrator = src.Narrator
		dst.AdditionalNarrators = src.AdditionalNarrators
	}
	if dst.Publisher == "" {
		dst.Publisher = src.Publisher
	}
	if dst.PublishYear == "" {
		dst.PublishYear = src.PublishYear
	}
	if dst.PublishDate == "" {
		dst.PublishDate = src.PublishDate
	}
	if dst.Language == "" {
		dst.Language = src.Language
	}
	if dst.Summary == "" {
		dst.Summary = src.Summary
	}
	if dst.ISBN == "" {
		dst.ISBN = src.ISBN
	}
	if dst.ASIN == "" {
		dst.ASIN = src.ASIN
	}
	if len(dst.Genres) == 0 {
		dst.Genres = src.Genres
	}
	if dst.SeriesName == "" {
		dst.SeriesName = src.SeriesName
		dst.VolumeNumber = src.VolumeNumber
		dst.AdditionalSeries = src.AdditionalSeries
	}
	if dst.CoverURL == "" {
		dst.CoverURL = src.CoverURL
	}
}

// checkCancel classifies a cancelled job or context at a stage boundary
func (p *Pipeline) checkCancel(ctx context.Context, jobID string) error {
	if ctx.Err() != nil {
		return NewError(KindCancelled, ctx.Err())
	}
	if p.cancelled != nil && p.cancelled(ctx, jobID) {
		return Errorf(KindCancelled, "job cancelled")
	}
	return nil
}

// TargetLeaf builds the final directory name for a book: "Volume - Title"
// when a normalized volume exists, otherwise the title alone
func TargetLeaf(m *models.BookMetadata) string {
	title := SanitizePath(m.Title)
	volume := NormalizeVolumeNumber(m.VolumeNumber)
	if volume != "" {
		return fmt.Sprintf("%s - %s", SanitizePath(volume), title)
	}
	return title
}

// TargetPath computes the organize destination under the output root. Series
// level is included only when the series option is on and the book has one.
func TargetPath(opts *models.Options, m *models.BookMetadata) (string, error) {
	author := SanitizePath(m.Author)
	if author == "" {
		return "", Errorf(KindParseError, "metadata has no author for %s", m.Folder)
	}
	leaf := TargetLeaf(m)
	if SanitizePath(m.Title) == "" {
		return "", Errorf(KindParseError, "metadata has no title for %s", m.Folder)
	}

	parts := []string{opts.Output, author}
	if opts.Series && m.SeriesName != "" {
		parts = append(parts, SanitizePath(m.SeriesName))
	}
	parts = append(parts, leaf)
	return filepath.Join(parts...), nil
}
