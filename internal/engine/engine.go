package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/scanner"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEngineClosed    = errors.New("engine closed")
)

// SessionID identifies a session within an Engine.
type SessionID string

// Engine keeps track of scan sessions by ID. It is safe for concurrent use.
type Engine struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[SessionID]*Session
	order    []SessionID
	closed   bool
}

// New returns an empty Engine. A nil logger means slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:   logger,
		sessions: make(map[SessionID]*Session),
	}
}

// StartScan creates a session for opts, registers it and starts it.
// Configuration and wordlist errors are returned before any request is sent
// and nothing is registered. A session that fails its connectivity check is
// still registered so its state can be queried.
func (e *Engine) StartScan(ctx context.Context, opts config.Options, options ...Option) (SessionID, error) {
	id, s, err := e.Create(opts, options...)
	if err != nil {
		return "", err
	}
	if err := s.Start(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// Create registers a Pending session without starting it, so callers can
// subscribe before the first finding is recorded.
func (e *Engine) Create(opts config.Options, options ...Option) (SessionID, *Session, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return "", nil, ErrEngineClosed
	}

	id := SessionID(uuid.New().String())
	options = append([]Option{WithLogger(e.logger.With(slog.String("session", string(id))))}, options...)
	s, err := NewSession(opts, options...)
	if err != nil {
		return "", nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", nil, ErrEngineClosed
	}
	e.sessions[id] = s
	e.order = append(e.order, id)
	return id, s, nil
}

// Session returns the session registered under id.
func (e *Engine) Session(id SessionID) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// GetProgress returns the progress of session id.
func (e *Engine) GetProgress(id SessionID) (Progress, error) {
	s, err := e.Session(id)
	if err != nil {
		return Progress{}, err
	}
	return s.Progress(), nil
}

// GetFindings returns a snapshot of the findings of session id.
func (e *Engine) GetFindings(id SessionID) ([]scanner.Finding, error) {
	s, err := e.Session(id)
	if err != nil {
		return nil, err
	}
	return s.Findings(), nil
}

// Cancel cancels session id. Cancelling a terminal session is a no-op.
func (e *Engine) Cancel(id SessionID) error {
	s, err := e.Session(id)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// Sessions returns the registered IDs in creation order.
func (e *Engine) Sessions() []SessionID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SessionID, len(e.order))
	copy(out, e.order)
	return out
}

// Remove forgets a terminal session. Running sessions cannot be removed.
func (e *Engine) Remove(id SessionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !s.State().Terminal() {
		return fmt.Errorf("session %s is %s", id, s.State())
	}
	delete(e.sessions, id)
	if i := slices.Index(e.order, id); i >= 0 {
		e.order = slices.Delete(e.order, i, i+1)
	}
	return nil
}

// Close cancels every session, waits for them to settle and rejects new
// scans. It returns ctx.Err() if ctx ends first.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	for _, s := range sessions {
		if _, err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
