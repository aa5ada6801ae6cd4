package stream

import (
	"log/slog"
	"sync"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/logging"
)

// Registry tracks live sessions by stream identifier. All methods are safe
// for concurrent use by transport handlers and the dashboard.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logging.NewComponentLogger(slog.Default(), "registry"),
	}
}

// Create registers a new session for streamID. A second create for the same
// identifier fails with ErrDuplicateStream and leaves the first untouched.
func (r *Registry) Create(streamID string, meta Metadata, deps Deps) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[streamID]; exists {
		return nil, errorsx.Wrap(errorsx.ErrDuplicateStream, errorsx.ReasonStreamDuplicate)
	}
	s := NewSession(streamID, meta, deps)
	r.sessions[streamID] = s
	r.logger.Info("session_registered",
		slog.String("stream_sid", streamID),
		slog.String("call_sid", meta.CallSID),
		slog.Int("active_sessions", len(r.sessions)))
	return s, nil
}

// Get returns the session for streamID, or nil and false.
func (r *Registry) Get(streamID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamID]
	return s, ok
}

// Remove closes and deregisters the session. Removing an unknown or already
// removed stream is a no-op, so transport teardown paths can all call it.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if ok {
		delete(r.sessions, streamID)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	r.logger.Info("session_removed",
		slog.String("stream_sid", streamID),
		slog.Int("active_sessions", remaining))
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListActive snapshots every registered session for the dashboard.
func (r *Registry) ListActive() []Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

// Shutdown closes every session and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
		s.Close()
	}
}
