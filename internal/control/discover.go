package control

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ternarybob/fabula/internal/models"
)

// DiscoverFolders enumerates the audiobook folders a job will process: the
// explicitly listed folders plus, when book_root is set, every immediate
// child directory of that root. Paths are returned absolute, deduplicated,
// and sorted.
func DiscoverFolders(opts *models.Options) ([]string, error) {
	seen := make(map[string]bool)
	var folders []string

	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("cannot resolve folder %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("folder %s: %w", path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}
		if !seen[abs] {
			seen[abs] = true
			folders = append(folders, abs)
		}
		return nil
	}

	for _, folder := range opts.Folders {
		if err := add(folder); err != nil {
			return nil, err
		}
	}

	if opts.BookRoot != "" {
		entries, err := os.ReadDir(opts.BookRoot)
		if err != nil {
			return nil, fmt.Errorf("cannot read book root %s: %w", opts.BookRoot, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if err := add(filepath.Join(opts.BookRoot, entry.Name())); err != nil {
				return nil, err
			}
		}
	}

	if len(folders) == 0 {
		return nil, fmt.Errorf("no audiobook folders to process")
	}

	sort.Strings(folders)
	return folders, nil
}
