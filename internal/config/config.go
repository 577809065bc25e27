package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/maxvaer/pathhunter/internal/candidate"
	"github.com/maxvaer/pathhunter/internal/wordlist"
)

// ErrInvalidConfiguration wraps every validation failure.
var ErrInvalidConfiguration = errors.New("invalid configuration")

const (
	MinThreads = 1
	MaxThreads = 50
)

// Options holds all configuration for a pathhunter scan.
type Options struct {
	// Target
	URL        string
	URLsFile   string // one target per line, scanned sequentially
	Wordlists  []wordlist.Source
	Extensions []string

	// Candidate transforms
	Encodings    candidate.Encoding
	Fuzz         bool   // add traversal fuzz patterns
	FuzzPatterns string // external catalog, implies Fuzz; empty = built-in

	// Performance
	Threads          int
	Timeout          time.Duration
	Delay            time.Duration
	RateLimit        int // requests per second across all workers, 0 = unlimited
	AdaptiveThrottle bool

	// Classification
	IncludeStatus        []int
	Interesting          bool // also report 400/401/403/405/500/503
	ExcludeStatus        []int
	ExcludeSize          []int
	SmartFilter          bool
	SmartFilterThreshold int // bytes tolerance

	// HTTP
	Method          string
	Headers         map[string]string
	UserAgent       string
	Proxy           string
	FollowRedirects bool

	// Output
	OutputFile   string
	OutputFormat string // "text", "json", "csv"
	SortBy       string // "", "status", "path", "size"
	Quiet        bool
	NoColor      bool
	Tree         bool // print the discovered path tree after each target
	Verbose      bool // engine diagnostics on stderr

	// Integrations
	OnResultCmd string
	MetricsAddr string
}

// Defaults returns Options populated with the CLI defaults.
func Defaults() Options {
	return Options{
		Threads:              10,
		Timeout:              5 * time.Second,
		Method:               "GET",
		SmartFilterThreshold: 50,
		OutputFormat:         "text",
	}
}

// Validate checks every option that affects scanning. All failures wrap
// ErrInvalidConfiguration.
func (o *Options) Validate() error {
	if o.Threads < MinThreads || o.Threads > MaxThreads {
		return invalid("threads must be between %d and %d, got %d", MinThreads, MaxThreads, o.Threads)
	}
	if o.Timeout <= 0 {
		return invalid("timeout must be positive, got %s", o.Timeout)
	}
	if o.Delay < 0 {
		return invalid("delay must not be negative, got %s", o.Delay)
	}
	if o.RateLimit < 0 {
		return invalid("rate limit must not be negative, got %d", o.RateLimit)
	}
	if o.SmartFilterThreshold < 0 {
		return invalid("smart filter threshold must not be negative, got %d", o.SmartFilterThreshold)
	}

	u, err := url.Parse(o.URL)
	if err != nil {
		return invalid("target URL %q: %v", o.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("target URL %q must use http or https", o.URL)
	}
	if u.Host == "" {
		return invalid("target URL %q has no host", o.URL)
	}
	if u.RawQuery != "" || u.ForceQuery || strings.Contains(o.URL, "#") {
		return invalid("target URL %q must not carry a query or fragment; candidates are appended to the path", o.URL)
	}

	if o.Proxy != "" {
		if _, err := url.Parse(o.Proxy); err != nil {
			return invalid("proxy URL %q: %v", o.Proxy, err)
		}
	}

	if o.Method != "" && !isToken(o.Method) {
		return invalid("method %q is not a valid HTTP method", o.Method)
	}

	for _, ext := range o.Extensions {
		if strings.ContainsAny(ext, "/?#") {
			return invalid("extension %q must not contain '/', '?' or '#'", ext)
		}
	}

	for _, codes := range [][]int{o.IncludeStatus, o.ExcludeStatus} {
		for _, c := range codes {
			if c < 100 || c > 599 {
				return invalid("status code %d out of range 100-599", c)
			}
		}
	}
	for _, s := range o.ExcludeSize {
		if s < 0 {
			return invalid("excluded size %d must not be negative", s)
		}
	}

	switch o.OutputFormat {
	case "", "text", "json", "csv":
	default:
		return invalid("output format %q must be one of: text, json, csv", o.OutputFormat)
	}
	switch o.SortBy {
	case "", "status", "path", "size":
	default:
		return invalid("sort %q must be one of: status, path, size", o.SortBy)
	}
	return nil
}

// ParseEncodings maps encoding names (url, double-url, null-byte) to a set.
func ParseEncodings(names []string) (candidate.Encoding, error) {
	var set candidate.Encoding
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "url":
			set |= candidate.EncodeURL
		case "double-url", "double":
			set |= candidate.EncodeDoubleURL
		case "null-byte", "null":
			set |= candidate.EncodeNullByte
		default:
			return 0, invalid("unknown encoding %q (want url, double-url, null-byte)", name)
		}
	}
	return set, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// isToken reports whether s is an RFC 7230 token.
func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
