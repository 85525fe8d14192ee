// Package registry tracks the one active agent loop per session and routes
// incoming user messages to it.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	inputQueueSize = 16
	stopWait       = 10 * time.Second
)

// TurnRunner processes one user message for a session, blocking until the
// agent loop for that message finishes.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, message string) error
}

type loop struct {
	cancel context.CancelFunc
	inputs chan string
	done   chan struct{}
}

// Registry enforces the single-active-loop invariant: at most one goroutine
// runs a given session's agent loop at a time. Messages arriving while a loop
// is running are queued and handled by that same loop, in order.
type Registry struct {
	mu     sync.Mutex
	loops  map[string]*loop
	runner TurnRunner
}

// New creates a Registry driving loops on the given runner.
func New(runner TurnRunner) *Registry {
	return &Registry{loops: make(map[string]*loop), runner: runner}
}

// Submit delivers a user message to a session. If no loop is active one is
// started; otherwise the message is queued for the running loop. Returns
// false if the session's input queue is full.
func (r *Registry) Submit(sessionID, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loops[sessionID]; ok {
		select {
		case l.inputs <- message:
			return true
		default:
			slog.Warn("Session input queue full", "session_id", sessionID)
			return false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		cancel: cancel,
		inputs: make(chan string, inputQueueSize),
		done:   make(chan struct{}),
	}
	l.inputs <- message
	r.loops[sessionID] = l

	go r.run(ctx, sessionID, l)
	return true
}

// run drains the session's input queue, executing one engine turn per
// message. It unregisters the loop only after confirming, under the lock,
// that no message slipped in behind the last drain.
func (r *Registry) run(ctx context.Context, sessionID string, l *loop) {
	defer close(l.done)

	for {
		select {
		case msg := <-l.inputs:
			if err := r.runner.RunTurn(ctx, sessionID, msg); err != nil {
				slog.Error("Agent turn failed", "session_id", sessionID, "error", err)
			}
			if ctx.Err() != nil {
				r.unregister(sessionID, l)
				return
			}
		default:
			r.mu.Lock()
			if len(l.inputs) > 0 {
				r.mu.Unlock()
				continue
			}
			delete(r.loops, sessionID)
			r.mu.Unlock()
			return
		}
	}
}

func (r *Registry) unregister(sessionID string, l *loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loops[sessionID] == l {
		delete(r.loops, sessionID)
	}
}

// Active reports whether a loop is currently running for the session.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loops[sessionID]
	return ok
}

// Cancel stops the session's running loop, if any. The loop notices the
// cancelled context at its next checkpoint and marks the session cancelled.
func (r *Registry) Cancel(sessionID string) {
	r.mu.Lock()
	l, ok := r.loops[sessionID]
	r.mu.Unlock()
	if ok {
		l.cancel()
	}
}

// Stop cancels the session's loop and waits, bounded, for it to exit. Used
// before deleting a session so no loop writes to freshly removed rows.
func (r *Registry) Stop(sessionID string) {
	r.mu.Lock()
	l, ok := r.loops[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	l.cancel()
	select {
	case <-l.done:
	case <-time.After(stopWait):
		slog.Warn("Timed out waiting for session loop to stop", "session_id", sessionID)
	}
}

// Shutdown cancels every running loop and waits, bounded, for them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	loops := make([]*loop, 0, len(r.loops))
	for _, l := range r.loops {
		l.cancel()
		loops = append(loops, l)
	}
	r.mu.Unlock()

	deadline := time.After(stopWait)
	for _, l := range loops {
		select {
		case <-l.done:
		case <-deadline:
			return
		}
	}
}
