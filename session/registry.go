// Package session tracks which channels are actively polling a live chat.
// Presence in the registry is the liveness signal a poller consults between
// fetches; Stop additionally cancels the poller's context so teardown never
// waits longer than one poll interval.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lypsing/lilybot/telemetry"
)

var (
	ErrAlreadyActive = errors.New("a live chat is already being monitored in this channel")
	ErrNoSession     = errors.New("no active live chat monitoring in this channel")
)

// Session is one scope's binding to a video being polled.
type Session struct {
	VideoID   string
	StartedAt time.Time
	cancel    context.CancelFunc
}

// Registry maps a scope (Discord channel id) to at most one running poll
// session. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Session)}
}

// Start registers a session for scope and returns a context, derived from
// parent, that is cancelled when the session is stopped or deregistered.
// Fails with ErrAlreadyActive if the scope already has a session.
func (r *Registry) Start(parent context.Context, scope, videoID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[scope]; ok {
		return nil, ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(parent)
	r.active[scope] = &Session{VideoID: videoID, StartedAt: time.Now().UTC(), cancel: cancel}
	telemetry.SetActiveSessions(len(r.active))
	return ctx, nil
}

// Stop removes the scope's session and cancels its context. Returns the video
// id that was being monitored, or ErrNoSession.
func (r *Registry) Stop(scope string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[scope]
	if !ok {
		return "", ErrNoSession
	}
	delete(r.active, scope)
	s.cancel()
	telemetry.SetActiveSessions(len(r.active))
	return s.VideoID, nil
}

// Status reports the video id being monitored for scope, if any.
func (r *Registry) Status(scope string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[scope]
	if !ok {
		return "", false
	}
	return s.VideoID, true
}

// Active reports whether scope is still bound to videoID. Pollers call this
// at each loop iteration; a false result means the session was stopped or
// replaced and the loop must exit.
func (r *Registry) Active(scope, videoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[scope]
	return ok && s.VideoID == videoID
}

// Deregister removes the session only if scope is still bound to videoID.
// Pollers use it on self-termination so a session started after their exit is
// left alone.
func (r *Registry) Deregister(scope, videoID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[scope]
	if !ok || s.VideoID != videoID {
		return
	}
	delete(r.active, scope)
	s.cancel()
	telemetry.SetActiveSessions(len(r.active))
}

// Snapshot returns scope -> video id for all active sessions.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.active))
	for scope, s := range r.active {
		out[scope] = s.VideoID
	}
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
