package output

import (
	"cmp"
	"slices"

	"github.com/maxvaer/pathhunter/internal/scanner"
)

// SortedWriter buffers findings and replays them sorted when WriteFooter is
// called. Ties on the sort key are broken by URL so the report is stable
// regardless of the order workers finished in.
type SortedWriter struct {
	inner    Writer
	sortBy   string
	findings []scanner.Finding
}

// NewSortedWriter wraps inner and buffers findings for sorted replay.
func NewSortedWriter(inner Writer, sortBy string) *SortedWriter {
	return &SortedWriter{inner: inner, sortBy: sortBy}
}

func (w *SortedWriter) WriteHeader() error {
	return w.inner.WriteHeader()
}

func (w *SortedWriter) WriteFinding(f *scanner.Finding) error {
	w.findings = append(w.findings, *f)
	return nil
}

func (w *SortedWriter) WriteFooter(s Summary) error {
	slices.SortStableFunc(w.findings, func(a, b scanner.Finding) int {
		var c int
		switch w.sortBy {
		case "status":
			c = cmp.Compare(a.StatusCode, b.StatusCode)
		case "size":
			c = cmp.Compare(a.Size, b.Size)
		case "path":
			c = cmp.Compare(a.Path, b.Path)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.URL, b.URL)
	})
	for i := range w.findings {
		if err := w.inner.WriteFinding(&w.findings[i]); err != nil {
			return err
		}
	}
	return w.inner.WriteFooter(s)
}

func (w *SortedWriter) Close() error {
	return w.inner.Close()
}
