package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/maxvaer/pathhunter/internal/engine"
)

type progressSource interface {
	Progress() engine.Progress
}

// Progress redraws a one-line status for a running session on stderr.
type Progress struct {
	src    progressSource
	w      io.Writer
	paused func() bool
	quiet  bool

	mu      sync.Mutex
	drawn   bool
	done    chan struct{}
	stopped chan struct{}
}

// NewProgress creates a progress line for src. paused may be nil. Call Start
// to begin display updates.
func NewProgress(src progressSource, paused func() bool, quiet bool) *Progress {
	return newProgress(src, os.Stderr, paused, quiet)
}

func newProgress(src progressSource, w io.Writer, paused func() bool, quiet bool) *Progress {
	return &Progress{
		src:     src,
		w:       w,
		paused:  paused,
		quiet:   quiet,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins periodically printing progress.
func (p *Progress) Start() {
	if p.quiet {
		close(p.stopped)
		return
	}
	go func() {
		defer close(p.stopped)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Redraw()
			case <-p.done:
				p.Redraw()
				p.mu.Lock()
				fmt.Fprint(p.w, "\n")
				p.drawn = false
				p.mu.Unlock()
				return
			}
		}
	}()
}

// Stop prints the final state and ends the display. It waits for the last
// redraw so later output starts on a fresh line.
func (p *Progress) Stop() {
	close(p.done)
	<-p.stopped
}

// ClearLine erases the progress line so a result can be printed in its place.
func (p *Progress) ClearLine() {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}

// Redraw prints the current progress line.
func (p *Progress) Redraw() {
	if p.quiet {
		return
	}
	line := p.render(p.src.Progress())
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, "\r\033[K"+line)
	p.drawn = true
}

func (p *Progress) render(s engine.Progress) string {
	rate := float64(0)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		rate = float64(s.Completed) / secs
	}

	eta := ""
	if rate > 0 && s.Completed < s.Total {
		remaining := float64(s.Total-s.Completed) / rate
		eta = fmt.Sprintf(" | ETA: %s", time.Duration(remaining*float64(time.Second)).Round(time.Second))
	}

	status := ""
	if p.paused != nil && p.paused() {
		status = " | PAUSED"
	}

	return fmt.Sprintf("[%3.0f%%] %d/%d | %.0f req/s | Found: %d | Errors: %d%s%s",
		s.Percent(), s.Completed, s.Total, rate, s.Found, s.Errors, eta, status)
}
