package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/maxvaer/pathhunter/internal/scanner"
)

// TextWriter writes one coloured line per finding.
type TextWriter struct {
	w      io.Writer
	closer io.Closer
	stats  io.Writer
	quiet  bool

	dim      *color.Color
	success  *color.Color
	redirect *color.Color
	client   *color.Color
	server   *color.Color
}

// NewTextWriter creates a text output writer. If outputFile is empty, stdout
// is used. Colour is disabled when noColor is set or output goes to a file.
func NewTextWriter(outputFile string, noColor, quiet bool) (*TextWriter, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w = f
		closer = f
		noColor = true
	}
	return newTextWriter(w, closer, os.Stderr, noColor, quiet), nil
}

func newTextWriter(w io.Writer, closer io.Closer, stats io.Writer, noColor, quiet bool) *TextWriter {
	t := &TextWriter{
		w:        w,
		closer:   closer,
		stats:    stats,
		quiet:    quiet,
		dim:      color.New(color.Faint),
		success:  color.New(color.FgGreen),
		redirect: color.New(color.FgCyan),
		client:   color.New(color.FgYellow),
		server:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{t.dim, t.success, t.redirect, t.client, t.server} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return t
}

func (t *TextWriter) WriteHeader() error {
	if t.quiet {
		return nil
	}
	_, err := fmt.Fprintln(t.w, t.dim.Sprint("Time      Code      Size  URL"))
	return err
}

func (t *TextWriter) WriteFinding(f *scanner.Finding) error {
	redirectInfo := ""
	if f.RedirectURL != "" {
		redirectInfo = " -> " + f.RedirectURL
	}

	prefix := ""
	if f.Method != "" && f.Method != "GET" {
		prefix = fmt.Sprintf("[%s] ", f.Method)
	}

	_, err := fmt.Fprintf(t.w, "%s  %s  %8d  %s%s%s\n",
		t.dim.Sprint(f.FoundAt.Format(time.TimeOnly)),
		t.colorForStatus(f.StatusCode).Sprintf("%3d", f.StatusCode),
		f.Size,
		prefix,
		f.URL,
		redirectInfo,
	)
	return err
}

func (t *TextWriter) WriteFooter(s Summary) error {
	if t.quiet {
		return nil
	}
	state := "Completed"
	if s.Cancelled {
		state = "Cancelled"
	}
	_, err := fmt.Fprintf(t.stats,
		"\n%s: %d requests | Found: %d | Errors: %d | Duration: %s | %.1f req/s\n",
		state,
		s.Requests,
		s.Found,
		s.Errors,
		s.Duration.Round(time.Millisecond),
		s.RequestsPerSec,
	)
	return err
}

func (t *TextWriter) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *TextWriter) colorForStatus(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return t.success
	case code >= 300 && code < 400:
		return t.redirect
	case code >= 400 && code < 500:
		return t.client
	default:
		return t.server
	}
}
