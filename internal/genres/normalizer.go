package genres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/interfaces"
)

// Normalizer maps free-form genre lists onto a consistent canonical form and
// grows the mapping as new genres are encountered. The mapping is a JSON
// object of canonical (lowercase) to alternative spellings (lowercase),
// shared by every worker through one in-process mutex.
type Normalizer struct {
	mu          sync.Mutex
	mapping     map[string][]string
	mappingPath string
	advisor     interfaces.GenreAdvisor // nil when LLM classification is disabled
	logger      arbor.ILogger
}

// NewNormalizer loads the mapping from disk (a missing file starts an empty
// mapping) and pings the advisor when one is supplied.
func NewNormalizer(mappingPath string, advisor interfaces.GenreAdvisor, logger arbor.ILogger) (*Normalizer, error) {
	n := &Normalizer{
		mapping:     make(map[string][]string),
		mappingPath: mappingPath,
		advisor:     advisor,
		logger:      logger,
	}

	data, err := os.ReadFile(mappingPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read genre mapping: %w", err)
		}
	} else if err := json.Unmarshal(data, &n.mapping); err != nil {
		return nil, fmt.Errorf("failed to parse genre mapping %s: %w", mappingPath, err)
	}

	if advisor != nil {
		if err := advisor.Ping(context.Background()); err != nil {
			return nil, fmt.Errorf("genre advisor ping failed: %w", err)
		}
	}

	logger.Debug().Int("canonicals", len(n.mapping)).Str("path", mappingPath).Msg("Genre mapping loaded")
	return n, nil
}

// Normalize resolves each genre to its canonical form, learning unknown
// genres along the way. Output contains only canonical names, deduplicated,
// in first-seen input order. The mapping only ever grows; any change is
// persisted atomically before returning.
func (n *Normalizer) Normalize(ctx context.Context, genres []string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dirty := false
	seen := make(map[string]bool, len(genres))
	result := make([]string, 0, len(genres))

	for _, raw := range genres {
		genre := strings.ToLower(strings.TrimSpace(raw))
		if genre == "" {
			continue
		}

		canonical, ok := n.resolve(genre)
		if !ok {
			learned, err := n.learn(ctx, genre)
			if err != nil {
				return nil, err
			}
			canonical = learned
			dirty = true
		}

		if !seen[canonical] {
			seen[canonical] = true
			result = append(result, canonical)
		}
	}

	if dirty {
		if err := n.persist(); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// resolve finds the canonical for a lowercased genre: a direct canonical
// match, or an alternative pointing to one
func (n *Normalizer) resolve(genre string) (string, bool) {
	if _, ok := n.mapping[genre]; ok {
		return genre, true
	}
	for canonical, alternatives := range n.mapping {
		for _, alt := range alternatives {
			if alt == genre {
				return canonical, true
			}
		}
	}
	return "", false
}

// learn handles an unmapped genre: without an advisor it becomes a new
// canonical; with one, the advisor's answer decides between joining an
// existing canonical's alternatives or starting a new canonical.
func (n *Normalizer) learn(ctx context.Context, genre string) (string, error) {
	if n.advisor == nil {
		n.mapping[genre] = []string{}
		n.logger.Info().Str("genre", genre).Msg("New canonical genre added")
		return genre, nil
	}

	mappingJSON, err := json.Marshal(n.mapping)
	if err != nil {
		return "", fmt.Errorf("failed to serialize genre mapping: %w", err)
	}

	answer, err := n.advisor.Classify(ctx, genre, string(mappingJSON))
	if err != nil {
		return "", fmt.Errorf("genre classification failed for %q: %w", genre, err)
	}

	answer = strings.TrimSpace(answer)
	if answer == interfaces.NoFitAnswer {
		n.mapping[genre] = []string{}
		n.logger.Info().Str("genre", genre).Msg("Advisor found no fit, new canonical genre added")
		return genre, nil
	}

	canonical := strings.ToLower(answer)
	if _, ok := n.mapping[canonical]; !ok {
		return "", fmt.Errorf("genre advisor returned %q which is neither an existing canonical nor %s", answer, interfaces.NoFitAnswer)
	}

	n.mapping[canonical] = append(n.mapping[canonical], genre)
	n.logger.Info().Str("genre", genre).Str("canonical", canonical).Msg("Genre classified as alternative")
	return canonical, nil
}

// persist writes the mapping atomically: temp file in the same directory,
// then rename over the target. encoding/json sorts object keys, which gives
// the stable on-disk ordering for free.
func (n *Normalizer) persist() error {
	data, err := json.MarshalIndent(n.mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize genre mapping: %w", err)
	}

	dir := filepath.Dir(n.mappingPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".genres-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp mapping file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp mapping file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, n.mappingPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace genre mapping: %w", err)
	}

	return nil
}

// MappingSize returns the number of canonical genres (used by tests and the
// progress report)
func (n *Normalizer) MappingSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mapping)
}

// Alternatives returns a copy of a canonical's alternative list
func (n *Normalizer) Alternatives(canonical string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	alts, ok := n.mapping[strings.ToLower(canonical)]
	if !ok {
		return nil
	}
	out := make([]string, len(alts))
	copy(out, alts)
	return out
}

// HasCanonical reports whether a canonical genre exists in the mapping
func (n *Normalizer) HasCanonical(canonical string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.mapping[strings.ToLower(canonical)]
	return ok
}
