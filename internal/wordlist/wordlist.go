package wordlist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrSourceUnreadable is returned when a listed source cannot be opened or read.
	ErrSourceUnreadable = errors.New("wordlist source unreadable")
	// ErrEmptyWordlist is returned when the combined sources hold no usable words.
	ErrEmptyWordlist = errors.New("wordlist is empty")
)

// Source is a single wordlist input: either a file on disk or in-memory text
// (e.g. an uploaded list that was never written to disk).
type Source struct {
	Name    string
	Path    string
	Content string
	inline  bool
}

// File returns a Source that reads the wordlist at path.
func File(path string) Source {
	return Source{Name: path, Path: path}
}

// Text returns a Source backed by content held in memory.
func Text(name, content string) Source {
	return Source{Name: name, Content: content, inline: true}
}

// Embedded returns the built-in default wordlist.
func Embedded() Source {
	return Text("embedded", embeddedWordlist)
}

func (s Source) read() (string, error) {
	if s.inline {
		return s.Content, nil
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, s.Name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, s.Name, err)
	}
	return string(data), nil
}

// Combine loads every source in order and merges them into one
// de-duplicated word list. Comparison is exact and case-sensitive; the first
// occurrence of a word fixes its position. Blank lines and lines starting
// with '#' are skipped.
func Combine(sources ...Source) ([]string, error) {
	seen := make(map[string]struct{})
	var result []string

	for _, src := range sources {
		raw, err := src.read()
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if _, ok := seen[line]; !ok {
				seen[line] = struct{}{}
				result = append(result, line)
			}
		}
	}

	if len(result) == 0 {
		return nil, ErrEmptyWordlist
	}
	return result, nil
}
