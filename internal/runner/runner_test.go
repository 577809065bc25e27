package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxvaer/pathhunter/internal/candidate"
	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/scanner"
	"github.com/maxvaer/pathhunter/internal/wordlist"
)

func writeWordlist(t *testing.T, words []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wordlist.txt")
	if err := os.WriteFile(path, []byte(strings.Join(words, "\n")), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOpts(t *testing.T, serverURL, wordlistPath string) *config.Options {
	t.Helper()
	opts := config.Defaults()
	opts.URL = serverURL
	opts.Wordlists = []wordlist.Source{wordlist.File(wordlistPath)}
	opts.Threads = 2
	opts.Quiet = true
	opts.NoColor = true
	opts.OutputFile = filepath.Join(t.TempDir(), "output.txt")
	return &opts
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestBasicScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin":
			w.WriteHeader(200)
			fmt.Fprint(w, "admin page")
		case "/login":
			w.WriteHeader(200)
			fmt.Fprint(w, "login page")
		default:
			w.WriteHeader(404)
			fmt.Fprint(w, "not found")
		}
	}))
	defer srv.Close()

	wordlist := writeWordlist(t, []string{"admin", "login", "notexist"})
	opts := testOpts(t, srv.URL, wordlist)

	if err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	out := readOutput(t, opts.OutputFile)
	if !strings.Contains(out, "/admin") {
		t.Error("expected /admin in output")
	}
	if !strings.Contains(out, "/login") {
		t.Error("expected /login in output")
	}
	if strings.Contains(out, "/notexist") {
		t.Error("unexpected /notexist in output")
	}
}

func TestSmartFilterRemovesSoft404s(t *testing.T) {
	const soft404Body = "Page not found. This is a custom 404 page with some content that looks real."

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" {
			w.WriteHeader(200)
			fmt.Fprint(w, "Welcome to the real admin panel. This is unique content that differs from the 404 page.")
			return
		}
		// Everything else returns 200 with identical body (soft-404).
		w.WriteHeader(200)
		fmt.Fprint(w, soft404Body)
	}))
	defer srv.Close()

	wordlist := writeWordlist(t, []string{"admin", "fakeone", "faketwo", "fakethree"})
	opts := testOpts(t, srv.URL, wordlist)
	opts.SmartFilter = true
	opts.SmartFilterThreshold = 50

	if err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	out := readOutput(t, opts.OutputFile)
	if !strings.Contains(out, "/admin") {
		t.Errorf("expected /admin in output, got:\n%s", out)
	}
	if strings.Contains(out, "/fakeone") {
		t.Error("unexpected /fakeone: smart filter should have removed it")
	}
	if strings.Contains(out, "/faketwo") {
		t.Error("unexpected /faketwo: smart filter should have removed it")
	}
}

func TestMethodOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/upload" && r.Method == "POST" {
			w.WriteHeader(200)
			fmt.Fprint(w, "upload ok")
			return
		}
		w.WriteHeader(404)
		fmt.Fprint(w, "not found")
	}))
	defer srv.Close()

	wordlist := writeWordlist(t, []string{"upload", "download"})
	opts := testOpts(t, srv.URL, wordlist)
	opts.Method = "post"

	if err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	out := readOutput(t, opts.OutputFile)
	if !strings.Contains(out, "[POST] "+srv.URL+"/upload") {
		t.Errorf("expected [POST] prefix in output, got:\n%s", out)
	}
}

func TestExtensionsAndEncodingsReachServer(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.RequestURI] = true
		mu.Unlock()
		w.WriteHeader(404)
	}))
	defer srv.Close()

	wordlist := writeWordlist(t, []string{"ad"})
	opts := testOpts(t, srv.URL, wordlist)
	opts.Extensions = []string{"php"}
	opts.Encodings = candidate.EncodeURL | candidate.EncodeDoubleURL | candidate.EncodeNullByte

	if err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{
		"/ad", "/%61%64", "/%2561%2564", "/ad%00",
		"/ad.php", "/%61%64%2E%70%68%70", "/%2561%2564%252E%2570%2568%2570", "/ad%00.php",
	} {
		if !seen[want] {
			t.Errorf("expected request for %s, got %v", want, seen)
		}
	}
	if len(seen) != 8 {
		t.Errorf("expected 8 distinct requests, got %d", len(seen))
	}
}

func TestMultipleTargetsJSON(t *testing.T) {
	newSrv := func(path string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				fmt.Fprint(w, "found")
				return
			}
			http.NotFound(w, r)
		}))
	}
	a := newSrv("/admin")
	defer a.Close()
	b := newSrv("/backup")
	defer b.Close()

	urls := filepath.Join(t.TempDir(), "urls.txt")
	content := "# targets\n" + strings.TrimPrefix(b.URL, "http://") + "\n\n"
	if err := os.WriteFile(urls, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	opts := testOpts(t, a.URL, writeWordlist(t, []string{"admin", "backup", "nothing"}))
	opts.URLsFile = urls
	opts.OutputFormat = "json"
	opts.SortBy = "path"

	if err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	var report struct {
		Findings []struct {
			URL    string `json:"url"`
			Path   string `json:"path"`
			Status int    `json:"status"`
		} `json:"findings"`
		Summary struct {
			Targets  int   `json:"targets"`
			Requests int64 `json:"requests"`
			Found    int64 `json:"found"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(readOutput(t, opts.OutputFile)), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %+v", report.Findings)
	}
	if report.Findings[0].URL != a.URL+"/admin" || report.Findings[1].URL != b.URL+"/backup" {
		t.Errorf("unexpected findings order: %+v", report.Findings)
	}
	if report.Summary.Targets != 2 || report.Summary.Requests != 6 || report.Summary.Found != 2 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
}

func TestInvalidThreadsSendNoRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for _, threads := range []int{0, 51} {
		opts := testOpts(t, srv.URL, writeWordlist(t, []string{"admin"}))
		opts.Threads = threads
		opts.SmartFilter = true

		err := Run(context.Background(), opts)
		if !errors.Is(err, config.ErrInvalidConfiguration) {
			t.Errorf("threads=%d: expected ErrInvalidConfiguration, got %v", threads, err)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestUnreachableTargetIsSkipped(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" {
			fmt.Fprint(w, "admin console for operators")
			return
		}
		http.NotFound(w, r)
	}))
	defer live.Close()

	urls := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(urls, []byte(live.URL+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := testOpts(t, deadURL, writeWordlist(t, []string{"admin"}))
	opts.URLsFile = urls
	opts.SmartFilter = true

	if err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	if out := readOutput(t, opts.OutputFile); !strings.Contains(out, live.URL+"/admin") {
		t.Errorf("expected live target finding, got:\n%s", out)
	}
}

func TestInterruptedRunKeepsReport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, "page")
	}))
	defer srv.Close()

	words := make([]string, 400)
	for i := range words {
		words[i] = fmt.Sprintf("path%d", i)
	}
	opts := testOpts(t, srv.URL, writeWordlist(t, words))
	opts.OutputFormat = "json"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for hits.Load() < 10 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	err := Run(ctx, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	var report struct {
		Findings []json.RawMessage `json:"findings"`
		Summary  struct {
			Requests  int64 `json:"requests"`
			Cancelled bool  `json:"cancelled"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(readOutput(t, opts.OutputFile)), &report); err != nil {
		t.Fatalf("partial report is not valid JSON: %v", err)
	}
	if !report.Summary.Cancelled {
		t.Error("expected summary to be marked cancelled")
	}
	if report.Summary.Requests >= int64(len(words)) {
		t.Errorf("expected fewer than %d requests, got %d", len(words), report.Summary.Requests)
	}
	if int64(len(report.Findings)) != report.Summary.Requests {
		t.Errorf("every completed request is a finding here: %d findings, %d requests",
			len(report.Findings), report.Summary.Requests)
	}
}

func TestResolveTargets(t *testing.T) {
	urls := filepath.Join(t.TempDir(), "urls.txt")
	content := "example.org\n# comment\n\n  https://secure.example.org/app  \n"
	if err := os.WriteFile(urls, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveTargets(&config.Options{URL: "example.com", URLsFile: urls})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"http://example.com", "http://example.org", "https://secure.example.org/app"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("resolveTargets = %v, want %v", got, want)
	}

	if _, err := resolveTargets(&config.Options{}); !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration without targets, got %v", err)
	}
	if _, err := resolveTargets(&config.Options{URLsFile: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing URLs file")
	}
}

func TestReadKeysTogglesPause(t *testing.T) {
	pauser := scanner.NewPauser()
	var status bytes.Buffer
	interrupted := false

	readKeys(strings.NewReader(" x\r"), pauser, &status, func() { interrupted = true })

	if pauser.IsPaused() {
		t.Error("two toggles should leave the scan running")
	}
	if !strings.Contains(status.String(), "PAUSED") || !strings.Contains(status.String(), "RESUMED") {
		t.Errorf("unexpected status output %q", status.String())
	}
	if interrupted {
		t.Error("interrupt called without Ctrl+C")
	}

	readKeys(strings.NewReader("\n\x03 "), pauser, &status, func() { interrupted = true })
	if !interrupted {
		t.Error("Ctrl+C should call interrupt")
	}
	if !pauser.IsPaused() {
		t.Error("keys after Ctrl+C must not be read")
	}
}

func TestMissingPatternCatalogStopsMultiTargetRun(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	urls := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(urls, []byte(srv.URL+"\n"+srv.URL+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := testOpts(t, srv.URL, writeWordlist(t, []string{"admin"}))
	opts.URLsFile = urls
	opts.FuzzPatterns = filepath.Join(t.TempDir(), "missing.yaml")

	err := Run(context.Background(), opts)
	if !errors.Is(err, wordlist.ErrSourceUnreadable) {
		t.Fatalf("expected ErrSourceUnreadable, got %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}
