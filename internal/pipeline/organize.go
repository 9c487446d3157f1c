package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/audio"
	"github.com/ternarybob/fabula/internal/locks"
	"github.com/ternarybob/fabula/internal/models"
)

// organize moves or copies the book folder to its computed target. Without
// copy or move the book stays in place and the input folder is the output.
// Shared ancestor directories (author, then series) are created under
// directory locks so two workers organizing books by the same author never
// race the mkdir. Locks are released as soon as the ancestors exist; the leaf
// target belongs to this task alone.
func (p *Pipeline) organize(ctx context.Context, task *models.Task, opts *models.Options, m *models.BookMetadata, log arbor.ILogger) error {
	if !opts.Copy && !opts.Move {
		m.FinalOutputPath = task.FolderPath
		return nil
	}

	target, err := TargetPath(opts, m)
	if err != nil {
		return err
	}
	m.FinalOutputPath = target

	if opts.DryRun {
		log.Info().Str("target", target).Msg("Dry run, skipping organize")
		return nil
	}

	if err := p.createSharedDirs(ctx, task, opts, m); err != nil {
		return err
	}

	if opts.Move {
		if err := moveTree(task.FolderPath, target); err != nil {
			return NewError(KindFileSystem, err)
		}
		log.Info().Str("from", task.FolderPath).Str("to", target).Msg("Moved book folder")
		return nil
	}

	if err := copyTree(task.FolderPath, target); err != nil {
		return NewError(KindFileSystem, err)
	}
	log.Info().Str("from", task.FolderPath).Str("to", target).Msg("Copied book folder")
	return nil
}

// createSharedDirs creates the author (and series) directories under their
// locks, author before series
func (p *Pipeline) createSharedDirs(ctx context.Context, task *models.Task, opts *models.Options, m *models.BookMetadata) error {
	authorDir := filepath.Join(opts.Output, SanitizePath(m.Author))

	releaseAuthor, err := p.locks.LockDirectory(ctx, authorDir, task.ID)
	if err != nil {
		return classifyLockErr(err)
	}
	defer releaseAuthor()

	if err := os.MkdirAll(authorDir, 0755); err != nil {
		return NewError(KindFileSystem, err)
	}

	if opts.Series && m.SeriesName != "" {
		seriesDir := filepath.Join(authorDir, SanitizePath(m.SeriesName))

		releaseSeries, err := p.locks.LockDirectory(ctx, seriesDir, task.ID)
		if err != nil {
			return classifyLockErr(err)
		}
		defer releaseSeries()

		if err := os.MkdirAll(seriesDir, 0755); err != nil {
			return NewError(KindFileSystem, err)
		}
	}

	return nil
}

func classifyLockErr(err error) error {
	if errors.Is(err, locks.ErrLockTimeout) {
		return NewError(KindLockTimeout, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindCancelled, err)
	}
	return NewError(KindFileSystem, err)
}

// flatten lifts every audio file from subdirectories to the target root with
// a zero-padded numeric prefix, preserving walk order, then removes the
// emptied subdirectories
func (p *Pipeline) flatten(opts *models.Options, m *models.BookMetadata, log arbor.ILogger) error {
	if opts.DryRun {
		return nil
	}

	target := m.FinalOutputPath
	files, err := audio.WalkAudioFiles(target)
	if err != nil {
		return NewError(KindFileSystem, err)
	}

	var nested []string
	for _, file := range files {
		if filepath.Dir(file) != filepath.Clean(target) {
			nested = append(nested, file)
		}
	}
	if len(nested) == 0 {
		return nil
	}

	pad := audio.TrackPadding(len(files))
	for i, file := range nested {
		dest := filepath.Join(target, fmt.Sprintf("%0*d - %s", pad, i+1, filepath.Base(file)))
		if err := os.Rename(file, dest); err != nil {
			return NewError(KindFileSystem, err)
		}
	}

	if err := removeEmptyDirs(target); err != nil {
		return NewError(KindFileSystem, err)
	}

	log.Debug().Int("files", len(nested)).Msg("Flattened audio files")
	return nil
}

// renameTracks renames root-level audio files to "NN - Title.ext" with
// padding derived from the track count
func (p *Pipeline) renameTracks(opts *models.Options, m *models.BookMetadata, log arbor.ILogger) error {
	if opts.DryRun {
		return nil
	}

	title := SanitizePath(m.Title)
	if title == "" {
		return Errorf(KindParseError, "cannot rename tracks without a title")
	}

	files, err := audio.ListAudioFiles(m.FinalOutputPath)
	if err != nil {
		return NewError(KindFileSystem, err)
	}
	if len(files) == 0 {
		return nil
	}

	pad := audio.TrackPadding(len(files))
	for i, file := range files {
		ext := strings.ToLower(filepath.Ext(file))
		dest := filepath.Join(m.FinalOutputPath, fmt.Sprintf("%0*d - %s%s", pad, i+1, title, ext))
		if file == dest {
			continue
		}
		if err := os.Rename(file, dest); err != nil {
			return NewError(KindFileSystem, err)
		}
	}

	log.Debug().Int("tracks", len(files)).Msg("Renamed tracks")
	return nil
}

// moveTree prefers a rename and falls back to copy-and-delete across
// filesystems
func moveTree(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// copyTree recursively copies a directory, preserving file modes and
// modification times
func copyTree(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// removeEmptyDirs deletes directories under root that contain no files,
// deepest first. The root itself is kept.
func removeEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != filepath.Clean(root) {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest paths first so parents empty out as children are removed
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			if err := os.Remove(dirs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
