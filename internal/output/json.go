package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/maxvaer/pathhunter/internal/scanner"
)

type jsonEntry struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Path        string    `json:"path"`
	StatusCode  int       `json:"status"`
	Size        int64     `json:"size"`
	RedirectURL string    `json:"redirect,omitempty"`
	Encoding    string    `json:"encoding,omitempty"`
	Fuzz        bool      `json:"fuzz,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	FoundAt     time.Time `json:"found_at"`
}

type jsonReport struct {
	Findings []jsonEntry `json:"findings"`
	Summary  jsonSummary `json:"summary"`
}

type jsonSummary struct {
	Targets    int     `json:"targets"`
	Requests   int64   `json:"requests"`
	Found      int64   `json:"found"`
	Errors     int64   `json:"errors"`
	Cancelled  bool    `json:"cancelled,omitempty"`
	DurationMs int64   `json:"duration_ms"`
	Rate       float64 `json:"requests_per_sec"`
}

// JSONWriter buffers findings and writes a single JSON document on
// WriteFooter.
type JSONWriter struct {
	w       io.Writer
	closer  io.Closer
	entries []jsonEntry
}

// NewJSONWriter creates a JSON output writer.
func NewJSONWriter(outputFile string) (*JSONWriter, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w = f
		closer = f
	}
	return &JSONWriter{w: w, closer: closer, entries: []jsonEntry{}}, nil
}

func (j *JSONWriter) WriteHeader() error { return nil }

func (j *JSONWriter) WriteFinding(f *scanner.Finding) error {
	entry := jsonEntry{
		Method:      f.Method,
		URL:         f.URL,
		Path:        f.Path,
		StatusCode:  f.StatusCode,
		Size:        f.Size,
		RedirectURL: f.RedirectURL,
		Fuzz:        f.Candidate.Fuzz,
		DurationMs:  f.Duration.Milliseconds(),
		FoundAt:     f.FoundAt,
	}
	if f.Candidate.Encoding != 0 {
		entry.Encoding = f.Candidate.Encoding.String()
	}
	j.entries = append(j.entries, entry)
	return nil
}

func (j *JSONWriter) WriteFooter(s Summary) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		Findings: j.entries,
		Summary: jsonSummary{
			Targets:    s.Targets,
			Requests:   s.Requests,
			Found:      s.Found,
			Errors:     s.Errors,
			Cancelled:  s.Cancelled,
			DurationMs: s.Duration.Milliseconds(),
			Rate:       s.RequestsPerSec,
		},
	})
}

func (j *JSONWriter) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
