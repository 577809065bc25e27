package scanner

import (
	"time"

	"github.com/maxvaer/pathhunter/internal/candidate"
)

// ProbeResult holds the outcome of a single candidate probe. A transport
// failure is recorded in Err rather than returned to the caller.
type ProbeResult struct {
	Candidate   candidate.Candidate
	Method      string
	Path        string
	URL         string
	StatusCode  int
	Size        int64    // response body bytes
	BodyHash    [16]byte // MD5
	WordCount   int
	LineCount   int
	RedirectURL string // absolute Location of a 3xx, or the final URL when following
	Duration    time.Duration
	Err         error
}

// IsRedirect reports whether the response carried a 3xx status.
func (r *ProbeResult) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Finding is a probe result accepted by the classifier.
type Finding struct {
	ProbeResult
	FoundAt time.Time
}
