package audio

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// extensions recognized as audiobook audio, lowercase with dot
var extensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".m4b":  true,
	".wma":  true,
	".flac": true,
	".ogg":  true,
}

// IsAudioFile reports whether a filename has a recognized audio extension
// (case-insensitive)
func IsAudioFile(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// ListAudioFiles returns the audio files directly under dir, sorted by name
func ListAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsAudioFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// WalkAudioFiles returns every audio file under root recursively, sorted by
// full path so multi-disc layouts keep their order
func WalkAudioFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsAudioFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// TrackPadding returns the zero-pad width for track numbering: 2 digits below
// 100 tracks, 3 below 1000, 4 otherwise
func TrackPadding(count int) int {
	switch {
	case count < 100:
		return 2
	case count < 1000:
		return 3
	default:
		return 4
	}
}
