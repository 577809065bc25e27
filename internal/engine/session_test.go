package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// hitServer counts requests per path and answers through handle.
type hitServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newHitServer(t *testing.T, handle http.HandlerFunc) *hitServer {
	t.Helper()
	hs := &hitServer{hits: map[string]int{}}
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hs.mu.Lock()
		hs.hits[r.URL.Path]++
		hs.mu.Unlock()
		handle(w, r)
	}))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *hitServer) total() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	n := 0
	for _, c := range hs.hits {
		n += c
	}
	return n
}

func (hs *hitServer) count(path string) int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.hits[path]
}

func testOptions(target string, words ...string) config.Options {
	opts := config.Defaults()
	opts.URL = target
	opts.Timeout = 2 * time.Second
	opts.Wordlists = []wordlist.Source{wordlist.Text("test", strings.Join(words, "\n"))}
	return opts
}

func runSession(t *testing.T, opts config.Options, options ...Option) *Session {
	t.Helper()
	options = append([]Option{WithLogger(quietLogger)}, options...)
	s, err := NewSession(opts, options...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = s.Wait(ctx)
	require.NoError(t, err)
	return s
}

func TestSessionFindsSingleExistingPath(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin.php" {
			fmt.Fprint(w, "admin panel")
			return
		}
		http.NotFound(w, r)
	})

	opts := testOptions(srv.URL, "admin", "login")
	opts.Extensions = []string{"php"}
	opts.Threads = 3

	s := runSession(t, opts)
	p := s.Progress()

	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, int64(4), p.Total)
	assert.Equal(t, int64(4), p.Dispatched)
	assert.Equal(t, p.Dispatched, p.Completed)
	assert.Equal(t, int64(1), p.Found)
	assert.Zero(t, p.Errors)
	assert.NoError(t, p.Err)
	assert.Equal(t, 4, srv.total())

	findings := s.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, "admin.php", findings[0].Path)
	assert.Equal(t, 200, findings[0].StatusCode)
	assert.Equal(t, srv.URL+"/admin.php", findings[0].URL)
	for _, path := range []string{"/admin", "/admin.php", "/login", "/login.php"} {
		assert.Equal(t, 1, srv.count(path), path)
	}
	assert.False(t, findings[0].FoundAt.IsZero())
}

func TestSessionRedirectIsFindingWithoutFollowUp(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" {
			w.Header().Set("Location", "/admin/")
			w.WriteHeader(http.StatusMovedPermanently)
			return
		}
		http.NotFound(w, r)
	})

	s := runSession(t, testOptions(srv.URL, "admin"))

	findings := s.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, 301, findings[0].StatusCode)
	assert.Equal(t, srv.URL+"/admin/", findings[0].RedirectURL)
	assert.Equal(t, 1, srv.count("/admin"))
	assert.Zero(t, srv.count("/admin/"))
}

func TestNewSessionRejectsThreadBounds(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, threads := range []int{0, 51, -3} {
		opts := testOptions(srv.URL, "admin")
		opts.Threads = threads
		_, err := NewSession(opts, WithLogger(quietLogger))
		assert.ErrorIs(t, err, config.ErrInvalidConfiguration, "threads=%d", threads)
	}
	assert.Zero(t, srv.total())
}

func TestNewSessionWordlistErrors(t *testing.T) {
	opts := testOptions("http://127.0.0.1:1")
	opts.Wordlists = []wordlist.Source{wordlist.Text("empty", "\n# nothing\n")}
	_, err := NewSession(opts)
	assert.ErrorIs(t, err, wordlist.ErrEmptyWordlist)

	opts.Wordlists = []wordlist.Source{wordlist.File(filepath.Join(t.TempDir(), "missing.txt"))}
	_, err = NewSession(opts)
	assert.ErrorIs(t, err, wordlist.ErrSourceUnreadable)
}

func TestNewSessionCountsFuzzPatterns(t *testing.T) {
	opts := testOptions("http://127.0.0.1:1", "a", "b")
	opts.Extensions = []string{"php"}
	opts.Encodings = candidate.EncodeURL | candidate.EncodeNullByte
	opts.Fuzz = true

	s, err := NewSession(opts)
	require.NoError(t, err)
	assert.Equal(t, 2*2*3+len(candidate.DefaultPatterns()), s.Total())
	assert.Equal(t, StatePending, s.State())
}

func TestNewSessionPatternCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte("patterns:\n  - ../etc/passwd\n  - ..%2fetc/hosts\n"), 0644))

	// A catalog path alone turns fuzzing on.
	opts := testOptions("http://127.0.0.1:1", "a")
	opts.FuzzPatterns = catalog
	s, err := NewSession(opts)
	require.NoError(t, err)
	assert.Equal(t, 1+2, s.Total())

	opts.FuzzPatterns = filepath.Join(dir, "missing.yaml")
	_, err = NewSession(opts)
	assert.ErrorIs(t, err, wordlist.ErrSourceUnreadable)
	assert.NotErrorIs(t, err, config.ErrInvalidConfiguration)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("patterns: []\n"), 0644))
	opts.FuzzPatterns = broken
	_, err = NewSession(opts)
	assert.ErrorIs(t, err, config.ErrInvalidConfiguration)
}

func TestSessionCancelWhileRunning(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		http.NotFound(w, r)
	})

	words := make([]string, 500)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	opts := testOptions(srv.URL, words...)
	opts.Threads = 4

	s, err := NewSession(opts, WithLogger(quietLogger))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return s.Progress().Completed >= 5 }, 5*time.Second, 5*time.Millisecond)
	s.Cancel()
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := s.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, p.State)
	assert.LessOrEqual(t, p.Dispatched, p.Total)
	assert.Less(t, p.Completed, p.Total)
	assert.Equal(t, p.Dispatched, p.Completed)
	assert.Equal(t, int(p.Completed), srv.total())
}

func TestSessionCancelPending(t *testing.T) {
	s, err := NewSession(testOptions("http://127.0.0.1:1", "admin"), WithLogger(quietLogger))
	require.NoError(t, err)

	s.Cancel()
	assert.Equal(t, StateCancelled, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after cancel")
	}
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
	assert.Zero(t, s.Progress().Dispatched)
}

func TestSessionStartTwice(t *testing.T) {
	srv := newHitServer(t, http.NotFound)
	s, err := NewSession(testOptions(srv.URL, "a"), WithLogger(quietLogger))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	<-s.Done()
}

func TestSessionCancelAfterCompletionIsNoop(t *testing.T) {
	srv := newHitServer(t, http.NotFound)
	s := runSession(t, testOptions(srv.URL, "a", "b"))
	require.Equal(t, StateCompleted, s.State())

	s.Cancel()
	assert.Equal(t, StateCompleted, s.State())
}

func TestSessionSubscribe(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/keep") {
			fmt.Fprint(w, "ok")
			return
		}
		http.NotFound(w, r)
	})

	s, err := NewSession(testOptions(srv.URL, "keep1", "drop", "keep2", "keep3"), WithLogger(quietLogger))
	require.NoError(t, err)
	sub := s.Subscribe()
	require.NoError(t, s.Start(context.Background()))

	var got []string
	for f := range sub {
		got = append(got, f.Path)
	}
	assert.ElementsMatch(t, []string{"keep1", "keep2", "keep3"}, got)

	late := s.Subscribe()
	_, open := <-late
	assert.False(t, open, "subscribing to a finished session yields a closed channel")
}

type panicProber struct{ at int }

func (p panicProber) Probe(_ context.Context, c candidate.Candidate) scanner.ProbeResult {
	if c.Index == p.at {
		panic("bad prober")
	}
	return scanner.ProbeResult{Candidate: c, Path: c.Path, StatusCode: 200}
}

func TestSessionProbePanicFails(t *testing.T) {
	opts := testOptions("http://127.0.0.1:1", "a", "b", "c", "d")
	opts.Threads = 1

	s := runSession(t, opts, WithProber(panicProber{at: 2}))
	p := s.Progress()

	assert.Equal(t, StateFailed, p.State)
	assert.ErrorIs(t, p.Err, scanner.ErrProbePanic)
	assert.Equal(t, p.Dispatched, p.Completed)
	assert.Len(t, s.Findings(), 2, "findings before the failure are preserved")
}

func TestSessionUnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	opts := testOptions(target, "admin")
	opts.SmartFilter = true
	s, err := NewSession(opts, WithLogger(quietLogger))
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrTargetUnreachable)
	p := s.Progress()
	assert.Equal(t, StateFailed, p.State)
	assert.ErrorIs(t, p.Err, ErrTargetUnreachable)
	assert.Zero(t, p.Dispatched)
}

func TestSessionSmartFilterDropsCatchAll(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" {
			fmt.Fprint(w, "admin panel with a login form")
			return
		}
		fmt.Fprint(w, "welcome")
	})

	opts := testOptions(srv.URL, "admin", "nope", "missing")
	opts.SmartFilter = true
	s := runSession(t, opts)

	findings := s.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, "admin", findings[0].Path)
}

func TestSessionRateLimitAndCounters(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		http.NotFound(w, r)
	})

	opts := testOptions(srv.URL, "a", "b", "c", "d", "e", "f")
	opts.Threads = 2
	opts.RateLimit = 50

	s := runSession(t, opts)
	p := s.Progress()
	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, int64(6), p.Completed)
	assert.LessOrEqual(t, int(peak.Load()), 2)
	assert.GreaterOrEqual(t, p.Elapsed, 90*time.Millisecond)
}

func TestSessionElapsedExcludesPauses(t *testing.T) {
	srv := newHitServer(t, func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })

	pauser := scanner.NewPauser()
	pauser.Toggle()

	s, err := NewSession(testOptions(srv.URL, "a", "b", "c"), WithLogger(quietLogger), WithPauser(pauser))
	require.NoError(t, err)
	wall := time.Now()
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(200 * time.Millisecond)
	p := s.Progress()
	assert.Equal(t, StateRunning, p.State)
	assert.Less(t, p.Elapsed, 100*time.Millisecond, "paused time counted as running time")
	assert.Zero(t, srv.total())

	pauser.Toggle()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err = s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, 3, srv.total())
	assert.Less(t, p.Elapsed, time.Since(wall)-150*time.Millisecond)
}
