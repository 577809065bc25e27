// Package reqparse turns a raw HTTP request, such as a Burp Suite or browser
// devtools export, into the target and headers a scan should reuse.
package reqparse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// ErrMalformedRequest means the file does not hold a usable HTTP request.
var ErrMalformedRequest = errors.New("malformed request file")

// Template is what a scan takes over from a captured request.
type Template struct {
	Method    string
	BaseURL   string // scheme and host only; candidates are appended to it
	Headers   map[string]string
	UserAgent string
}

// Headers the transport sets per request.
var skipped = []string{"Host", "Content-Length", "Accept-Encoding", "Connection"}

// ParseFile reads a raw request from path.
func ParseFile(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse reads one request from raw. The scheme is https unless the Host
// carries port 80 or the request line uses an absolute URL. The body, if
// any, is ignored.
func Parse(raw []byte) (*Template, error) {
	raw = normalizeRequestLine(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedRequest)
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	base, err := baseURL(req)
	if err != nil {
		return nil, err
	}

	t := &Template{Method: req.Method, BaseURL: base, UserAgent: req.Header.Get("User-Agent")}
	for key, values := range req.Header {
		if key == "User-Agent" || containsFold(skipped, key) {
			continue
		}
		if t.Headers == nil {
			t.Headers = make(map[string]string)
		}
		sep := ", "
		if key == "Cookie" {
			sep = "; "
		}
		t.Headers[key] = strings.Join(values, sep)
	}
	return t, nil
}

// normalizeRequestLine rewrites the first line into something ReadRequest
// accepts, since exports often say HTTP/2 and hand-written files drop the
// version, and terminates a header block that runs to the end of the file.
func normalizeRequestLine(raw []byte) []byte {
	raw = bytes.TrimLeft(raw, "\r\n\t ")
	if len(raw) == 0 {
		return nil
	}
	line, rest, _ := bytes.Cut(raw, []byte("\n"))
	fields := strings.Fields(string(line))
	switch {
	case len(fields) == 2:
		fields = append(fields, "HTTP/1.1")
	case len(fields) == 3 && strings.HasPrefix(strings.ToUpper(fields[2]), "HTTP/2"):
		fields[2] = "HTTP/1.1"
	}
	out := append([]byte(strings.Join(fields, " ")+"\r\n"), rest...)
	if !bytes.Contains(out, []byte("\n\n")) && !bytes.Contains(out, []byte("\n\r\n")) {
		out = append(bytes.TrimRight(out, "\r\n"), "\r\n\r\n"...)
	}
	return out
}

func baseURL(req *http.Request) (string, error) {
	if req.URL.IsAbs() {
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedRequest, req.URL.Scheme)
		}
		return req.URL.Scheme + "://" + req.URL.Host, nil
	}
	if req.Host == "" {
		return "", fmt.Errorf("%w: missing Host header", ErrMalformedRequest)
	}
	scheme := "https"
	if strings.HasSuffix(req.Host, ":80") {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: req.Host}
	return u.String(), nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
