package scanner

import (
	"log/slog"
	"sync"
	"time"
)

const (
	minBackoff   = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
	errorStrikes = 3 // transport errors in a row before backing off
)

// Throttler holds the per-request delay every worker sleeps before probing.
// In adaptive mode, 429/503 answers and runs of transport errors double the
// delay up to maxBackoff; the first healthy answer after a strike halves it
// back towards the configured base.
type Throttler struct {
	mu       sync.Mutex
	base     time.Duration
	current  time.Duration
	strikes  int
	adaptive bool
	logger   *slog.Logger
}

// NewThrottler returns a throttler starting at base. A nil logger falls back
// to slog.Default().
func NewThrottler(base time.Duration, adaptive bool, logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttler{base: base, current: base, adaptive: adaptive, logger: logger}
}

// Delay is the pause to take before the next request.
func (t *Throttler) Delay() time.Duration {
	if !t.adaptive {
		return t.base
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// RecordStatus feeds one response status into the back-off state.
func (t *Throttler) RecordStatus(status int) {
	if !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if status == 429 || status == 503 {
		t.strikes++
		t.slowDown("rate limited, backing off", slog.Int("status", status))
		return
	}
	if t.strikes > 0 {
		t.strikes = 0
		t.speedUp()
	}
}

// RecordError feeds one transport failure (timeout, reset) into the state.
func (t *Throttler) RecordError() {
	if !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.strikes++
	if t.strikes >= errorStrikes {
		t.slowDown("repeated transport errors, backing off")
	}
}

// slowDown and speedUp run with mu held.
func (t *Throttler) slowDown(msg string, attrs ...any) {
	next := min(max(2*t.current, minBackoff), maxBackoff)
	if next == t.current {
		return
	}
	t.current = next
	t.logger.Warn(msg, append(attrs, slog.Duration("delay", next))...)
}

func (t *Throttler) speedUp() {
	next := max(t.current/2, t.base)
	if next == t.current {
		return
	}
	t.current = next
	if next > t.base {
		t.logger.Info("recovering from rate limit", slog.Duration("delay", next))
	}
}
