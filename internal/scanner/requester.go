package scanner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maxvaer/pathhunter/internal/candidate"
	"github.com/maxvaer/pathhunter/internal/config"
)

const defaultUserAgent = "pathhunter/1.0"

// Requester wraps an HTTP client for path probing.
type Requester struct {
	client          *http.Client
	baseURL         string
	method          string
	headers         map[string]string
	userAgent       string
	followRedirects bool
}

// NewRequester creates a Requester from the provided options.
func NewRequester(opts *config.Options) (*Requester, error) {
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", opts.URL, err)
	}
	if base.Scheme == "" {
		base.Scheme = "http"
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawPath = strings.TrimRight(base.RawPath, "/")
	base.RawQuery = ""
	base.Fragment = ""

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		DialContext: (&net.Dialer{
			Timeout: opts.Timeout,
		}).DialContext,
		MaxIdleConnsPerHost: opts.Threads,
		MaxIdleConns:        opts.Threads,
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}

	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	return &Requester{
		client:          client,
		baseURL:         base.String(),
		method:          method,
		headers:         opts.Headers,
		userAgent:       ua,
		followRedirects: opts.FollowRedirects,
	}, nil
}

// URLFor joins the base URL and a candidate path with exactly one slash.
// The path is appended verbatim so pre-encoded candidates are not re-encoded.
func (r *Requester) URLFor(path string) string {
	return r.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Probe sends one request for the candidate. It never returns an error:
// transport failures are recorded in the result.
func (r *Requester) Probe(ctx context.Context, c candidate.Candidate) ProbeResult {
	result := ProbeResult{
		Candidate: c,
		Method:    r.method,
		Path:      c.Path,
		URL:       r.URLFor(c.Path),
	}

	start := time.Now()
	resp, err := r.Do(ctx, c.Path)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}

	result.StatusCode = resp.StatusCode
	result.Size = resp.ContentLength
	result.BodyHash = resp.BodyHash
	result.WordCount = resp.WordCount
	result.LineCount = resp.LineCount
	result.RedirectURL = resp.RedirectURL
	return result
}

// Response holds the parsed HTTP response data.
type Response struct {
	StatusCode    int
	ContentLength int64
	BodyHash      [16]byte
	WordCount     int
	LineCount     int
	RedirectURL   string
}

// Do sends the configured request for path and streams the body through
// bodyShape, so memory stays flat however large the response is.
func (r *Requester) Do(ctx context.Context, path string) (*Response, error) {
	targetURL := r.URLFor(path)

	req, err := http.NewRequestWithContext(ctx, r.method, targetURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", r.userAgent)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	shape := newBodyShape()
	if _, err := io.Copy(shape, resp.Body); err != nil {
		return nil, fmt.Errorf("reading response body for %s: %w", path, err)
	}

	result := &Response{StatusCode: resp.StatusCode}
	shape.finish(result)

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			result.RedirectURL = resolveLocation(resp.Request.URL, loc)
		}
	} else if r.followRedirects && resp.Request.URL.String() != req.URL.String() {
		result.RedirectURL = resp.Request.URL.String()
	}

	return result, nil
}

// resolveLocation turns a possibly relative Location header into an absolute
// URL. Unparseable values are returned unchanged.
func resolveLocation(requestURL *url.URL, loc string) string {
	ref, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return requestURL.ResolveReference(ref).String()
}
