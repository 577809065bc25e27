package output

import (
	"fmt"
	"time"

	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/engine"
	"github.com/maxvaer/pathhunter/internal/scanner"
)

// Summary holds aggregate statistics over one or more scanned targets.
type Summary struct {
	Targets        int
	Requests       int64
	Found          int64
	Errors         int64
	Cancelled      bool
	Duration       time.Duration
	RequestsPerSec float64
}

// Add folds the final progress of one session into the summary.
func (s *Summary) Add(p engine.Progress) {
	s.Targets++
	s.Requests += p.Completed
	s.Found += p.Found
	s.Errors += p.Errors
	s.Duration += p.Elapsed
	if p.State == engine.StateCancelled {
		s.Cancelled = true
	}
	if s.Duration > 0 {
		s.RequestsPerSec = float64(s.Requests) / s.Duration.Seconds()
	}
}

// Writer is implemented by each output format.
type Writer interface {
	WriteHeader() error
	WriteFinding(f *scanner.Finding) error
	WriteFooter(s Summary) error
	Close() error
}

// New returns the writer selected by opts, wrapped in a SortedWriter when a
// sort order is requested.
func New(opts *config.Options) (Writer, error) {
	var (
		w   Writer
		err error
	)
	switch opts.OutputFormat {
	case "json":
		w, err = NewJSONWriter(opts.OutputFile)
	case "csv":
		w, err = NewCSVWriter(opts.OutputFile)
	case "", "text":
		w, err = NewTextWriter(opts.OutputFile, opts.NoColor, opts.Quiet)
	default:
		return nil, fmt.Errorf("%w: unknown output format %q", config.ErrInvalidConfiguration, opts.OutputFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", opts.OutputFormat, err)
	}
	if opts.SortBy != "" {
		w = NewSortedWriter(w, opts.SortBy)
	}
	return w, nil
}
