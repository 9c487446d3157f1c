package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/models"
	"github.com/ternarybob/fabula/internal/opf"
)

const (
	infoFilename  = "info.txt"
	coverFilename = "cover.jpg"
)

// writeSidecars emits the enabled sidecar files into the final output
// directory: metadata.opf, info.txt with the summary, and the downloaded
// cover image
func (p *Pipeline) writeSidecars(ctx context.Context, opts *models.Options, m *models.BookMetadata, log arbor.ILogger) error {
	if opts.DryRun {
		return nil
	}
	dir := m.FinalOutputPath

	if opts.OPF {
		if err := opf.Write(dir, p.opfTemplate, m); err != nil {
			return NewError(KindFileSystem, err)
		}
		log.Debug().Str("file", opf.Filename).Msg("Sidecar written")
	}

	if opts.InfoTxt {
		path := filepath.Join(dir, infoFilename)
		if err := os.WriteFile(path, []byte(m.Summary), 0644); err != nil {
			return NewError(KindFileSystem, err)
		}
		log.Debug().Str("file", infoFilename).Msg("Sidecar written")
	}

	if opts.Cover && m.CoverURL != "" {
		if err := p.downloadCover(ctx, dir, m.CoverURL); err != nil {
			return err
		}
		log.Debug().Str("file", coverFilename).Msg("Cover downloaded")
	}

	return nil
}

// downloadCover fetches the cover into a temp file and renames it into place
// so a failed download never leaves a truncated cover.jpg
func (p *Pipeline) downloadCover(ctx context.Context, dir, coverURL string) error {
	tmp, err := os.CreateTemp(dir, ".cover-*.jpg")
	if err != nil {
		return NewError(KindFileSystem, err)
	}
	tmpPath := tmp.Name()

	if err := p.fetcher.DownloadTo(ctx, coverURL, "image/", tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return NewError(KindFileSystem, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, coverFilename)); err != nil {
		os.Remove(tmpPath)
		return NewError(KindFileSystem, err)
	}
	return nil
}
