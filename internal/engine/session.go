// Package engine runs scan sessions: it owns the lifecycle of one scan of
// one target and the registry that lets several scans run side by side.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxvaer/pathhunter/internal/candidate"
	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/filter"
	"github.com/maxvaer/pathhunter/internal/scanner"
	"github.com/maxvaer/pathhunter/internal/wordlist"
	"golang.org/x/time/rate"
)

var (
	// ErrTargetUnreachable is the terminal error of a session whose
	// connectivity check got no HTTP response at all.
	ErrTargetUnreachable = filter.ErrTargetUnreachable

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrSessionClosed is returned by Start on a session that was cancelled
	// before it began running.
	ErrSessionClosed = errors.New("session is closed")
)

// State is the lifecycle stage of a session.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Progress is a point-in-time view of a session's counters.
type Progress struct {
	Total      int64
	Dispatched int64
	Completed  int64
	Found      int64
	Errors     int64
	State      State
	Err        error
	Elapsed    time.Duration // running time, excluding pauses
}

// Percent returns completed/total in the range 0..100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for lifecycle and diagnostic messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProber replaces the HTTP prober. Calibration still uses HTTP.
func WithProber(p scanner.Prober) Option {
	return func(s *Session) { s.prober = p }
}

// WithPauser lets an external control (the terminal toggle) pause workers.
func WithPauser(p *scanner.Pauser) Option {
	return func(s *Session) { s.pauser = p }
}

// Session is one scan of one target. It moves Pending -> Running and ends
// in exactly one of Completed, Cancelled or Failed. Sessions are not reused.
type Session struct {
	opts      config.Options
	logger    *slog.Logger
	gen       *candidate.Generator
	requester *scanner.Requester
	prober    scanner.Prober
	pauser    *scanner.Pauser

	state     atomic.Int32
	started   atomic.Bool
	cancelled atomic.Bool
	counters  scanner.Counters
	found     atomic.Int64
	errs      atomic.Int64
	startNano atomic.Int64
	endNano   atomic.Int64
	// pauser totals when the session started and ended; the pauser may be
	// shared by consecutive sessions.
	pausedAtStart atomic.Int64
	pausedAtEnd   atomic.Int64
	fatal     atomic.Pointer[error]

	mu       sync.Mutex
	findings []scanner.Finding
	subs     []chan scanner.Finding
	closed   bool
	cancel   context.CancelFunc

	done chan struct{}
}

// NewSession validates opts, combines the wordlists and builds the candidate
// sequence. No request is sent. The returned session is Pending.
func NewSession(opts config.Options, options ...Option) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	words, err := wordlist.Combine(opts.Wordlists...)
	if err != nil {
		return nil, err
	}

	patterns, err := fuzzPatterns(&opts)
	if err != nil {
		return nil, err
	}

	req, err := scanner.NewRequester(&opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}

	s := &Session{
		opts:      opts,
		logger:    slog.Default(),
		requester: req,
		prober:    req,
		gen: candidate.New(words, candidate.Options{
			Extensions: opts.Extensions,
			Encodings:  opts.Encodings,
			Patterns:   patterns,
		}),
		done: make(chan struct{}),
	}
	for _, o := range options {
		o(s)
	}
	s.state.Store(int32(StatePending))
	s.logger = s.logger.With(slog.String("target", opts.URL))
	return s, nil
}

// fuzzPatterns returns the traversal patterns for opts. A catalog path turns
// fuzzing on by itself. Catalog failures map onto the wordlist and
// configuration errors so callers can treat them like any other source.
func fuzzPatterns(opts *config.Options) ([]string, error) {
	if opts.FuzzPatterns == "" {
		if opts.Fuzz {
			return candidate.DefaultPatterns(), nil
		}
		return nil, nil
	}
	patterns, err := candidate.LoadPatterns(opts.FuzzPatterns)
	switch {
	case err == nil:
		return patterns, nil
	case errors.Is(err, candidate.ErrCatalogUnreadable):
		return nil, fmt.Errorf("%w: fuzz patterns: %v", wordlist.ErrSourceUnreadable, err)
	default:
		return nil, fmt.Errorf("%w: fuzz patterns: %v", config.ErrInvalidConfiguration, err)
	}
}

// Target returns the base URL being scanned.
func (s *Session) Target() string { return s.opts.URL }

// Options returns a copy of the session's configuration.
func (s *Session) Options() config.Options { return s.opts }

// Total is the number of candidates the session will probe.
func (s *Session) Total() int { return s.gen.Len() }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start runs the optional connectivity check and launches the workers. It
// returns once the session is Running; use Done or Wait for completion.
// Cancelling ctx has the same effect as Cancel.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	if s.pauser != nil {
		s.pausedAtStart.Store(int64(s.pauser.PausedDuration()))
	}
	s.startNano.Store(time.Now().UnixNano())

	var smart *filter.SmartFilter
	if s.opts.SmartFilter {
		s.logger.Info("calibrating smart filter")
		sf, err := filter.NewSmartFilter(runCtx, s.requester, s.opts.SmartFilterThreshold, s.opts.Extensions)
		switch {
		case err == nil:
			smart = sf
			s.logger.Info("smart filter ready", slog.Int("baselines", sf.Baselines()))
		case runCtx.Err() != nil:
			// Cancelled during calibration; Cancel has already settled the state.
		case errors.Is(err, ErrTargetUnreachable):
			s.fail(err)
			cancel()
			return err
		default:
			s.logger.Warn("smart filter disabled", slog.Any("error", err))
		}
	}

	if !s.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		cancel()
		return ErrSessionClosed
	}
	s.logger.Info("scan started",
		slog.Int("candidates", s.gen.Len()),
		slog.Int("threads", s.opts.Threads),
	)

	cfg := scanner.WorkerConfig{
		Threads:   s.opts.Threads,
		Timeout:   s.opts.Timeout,
		Throttler: scanner.NewThrottler(s.opts.Delay, s.opts.AdaptiveThrottle, s.logger),
		Pauser:    s.pauser,
		Counters:  &s.counters,
		OnFatal: func(err error) {
			if s.fatal.CompareAndSwap(nil, &err) {
				s.logger.Error("probe failed fatally", slog.Any("error", err))
				cancel()
			}
		},
	}
	if s.opts.RateLimit > 0 {
		cfg.Limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), 1)
	}

	results := scanner.RunWorkerPool(runCtx, s.prober, s.gen.Cursor(), cfg)
	classifier := filter.NewClassifier(&s.opts, smart)

	go func() {
		defer cancel()
		for r := range results {
			if r.Err != nil {
				s.errs.Add(1)
				s.logger.Debug("probe error", slog.String("path", r.Path), slog.Any("error", r.Err))
				continue
			}
			if ok, _ := classifier.Classify(&r); ok {
				s.record(scanner.Finding{ProbeResult: r, FoundAt: time.Now()})
			}
		}
		s.settle(runCtx)
	}()
	return nil
}

// record appends a finding and pushes it to subscribers. Only the aggregator
// goroutine calls it.
func (s *Session) record(f scanner.Finding) {
	s.mu.Lock()
	s.findings = append(s.findings, f)
	subs := s.subs
	s.mu.Unlock()
	s.found.Add(1)

	for _, ch := range subs {
		ch <- f
	}
}

// settle picks the terminal state once every worker has exited.
func (s *Session) settle(runCtx context.Context) {
	next := StateCompleted
	switch {
	case s.fatal.Load() != nil:
		next = StateFailed
	case s.cancelled.Load() || runCtx.Err() != nil:
		next = StateCancelled
	}
	s.state.Store(int32(next))
	s.finish()

	p := s.Progress()
	s.logger.Info("scan finished",
		slog.String("state", next.String()),
		slog.Int64("completed", p.Completed),
		slog.Int64("found", p.Found),
		slog.Int64("errors", p.Errors),
		slog.Duration("elapsed", p.Elapsed),
	)
}

func (s *Session) fail(err error) {
	if !s.state.CompareAndSwap(int32(StatePending), int32(StateFailed)) {
		return
	}
	s.fatal.CompareAndSwap(nil, &err)
	s.finish()
	s.logger.Error("scan failed", slog.Any("error", err))
}

// finish closes subscriber channels and signals Done. It runs once.
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.pauser != nil {
		s.pausedAtEnd.Store(int64(s.pauser.PausedDuration()))
	}
	s.endNano.Store(time.Now().UnixNano())
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	close(s.done)
}

// Cancel stops the session. Workers stop claiming candidates; probes already
// in flight finish or time out and are still recorded. Cancel is idempotent
// and does nothing once the session is terminal.
func (s *Session) Cancel() {
	if s.State().Terminal() {
		return
	}
	s.cancelled.Store(true)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if s.state.CompareAndSwap(int32(StatePending), int32(StateCancelled)) {
		s.finish()
		s.logger.Info("scan cancelled before start")
	}
}

// Progress returns the current counters without blocking the workers.
func (s *Session) Progress() Progress {
	p := Progress{
		Total:      int64(s.gen.Len()),
		Dispatched: s.counters.Dispatched.Load(),
		Completed:  s.counters.Completed.Load(),
		Found:      s.found.Load(),
		Errors:     s.errs.Load(),
		State:      s.State(),
	}
	if err := s.fatal.Load(); err != nil {
		p.Err = *err
	}
	if start := s.startNano.Load(); start > 0 {
		end := s.endNano.Load()
		paused := time.Duration(s.pausedAtEnd.Load())
		if end == 0 {
			end = time.Now().UnixNano()
			if s.pauser != nil {
				paused = s.pauser.PausedDuration()
			}
		}
		if s.pauser != nil {
			paused -= time.Duration(s.pausedAtStart.Load())
		}
		p.Elapsed = max(time.Duration(end-start)-paused, 0)
	}
	return p
}

// Findings returns a copy of the findings recorded so far, in the order they
// were accepted.
func (s *Session) Findings() []scanner.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scanner.Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// Subscribe returns a channel that receives every finding accepted after the
// call. The channel is closed when the session reaches a terminal state.
// Subscribers must keep draining it; a stalled subscriber stalls the scan.
func (s *Session) Subscribe() <-chan scanner.Finding {
	ch := make(chan scanner.Finding, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is terminal or ctx ends, and returns the
// final progress.
func (s *Session) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-s.done:
		return s.Progress(), nil
	case <-ctx.Done():
		return s.Progress(), ctx.Err()
	}
}
