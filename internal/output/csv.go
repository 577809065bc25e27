package output

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/maxvaer/pathhunter/internal/scanner"
)

// CSVWriter writes findings in CSV format.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter creates a CSV output writer.
func NewCSVWriter(outputFile string) (*CSVWriter, error) {
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
	return &CSVWriter{w: csv.NewWriter(w), closer: closer}, nil
}

func (c *CSVWriter) WriteHeader() error {
	return c.w.Write([]string{"found_at", "method", "url", "path", "status", "size", "redirect"})
}

func (c *CSVWriter) WriteFinding(f *scanner.Finding) error {
	return c.w.Write([]string{
		f.FoundAt.Format(time.RFC3339),
		f.Method,
		f.URL,
		f.Path,
		strconv.Itoa(f.StatusCode),
		strconv.FormatInt(f.Size, 10),
		f.RedirectURL,
	})
}

func (c *CSVWriter) WriteFooter(_ Summary) error {
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
