package scanner

import (
	"context"
	"sync"
	"time"
)

// Pauser is a gate shared by all workers of a scan. While paused, the gate
// holds an open channel that Toggle closes on resume; while running the gate
// is nil and WaitContext returns at once.
type Pauser struct {
	mu     sync.Mutex
	gate   chan struct{}
	since  time.Time
	paused time.Duration // completed pauses only
}

// NewPauser returns a running Pauser.
func NewPauser() *Pauser {
	return &Pauser{}
}

// Wait blocks while paused.
func (p *Pauser) Wait() {
	p.WaitContext(context.Background())
}

// WaitContext blocks while paused or until ctx is done, and reports whether
// the caller may go on.
func (p *Pauser) WaitContext(ctx context.Context) bool {
	for {
		p.mu.Lock()
		gate := p.gate
		p.mu.Unlock()
		if gate == nil {
			return ctx.Err() == nil
		}
		select {
		case <-gate:
			// Resumed, but a quick second toggle may have paused again.
		case <-ctx.Done():
			return false
		}
	}
}

// Toggle pauses a running gate or resumes a paused one, and returns true when
// the gate is now paused.
func (p *Pauser) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
		p.paused += time.Since(p.since)
		return false
	}
	p.gate = make(chan struct{})
	p.since = time.Now()
	return true
}

// IsPaused reports whether the gate is closed to workers.
func (p *Pauser) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate != nil
}

// PausedDuration is the total time spent paused so far, including a pause
// that is still going on.
func (p *Pauser) PausedDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		return p.paused + time.Since(p.since)
	}
	return p.paused
}
