package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionFactory constructs a ready-to-serve session: fetch the origin
// manifest, rewrite it, and persist artifacts. The Registry calls it when a
// requested session is absent and must be built (or rebuilt from token claims).
type SessionFactory interface {
	Build(ctx context.Context, id StreamID, streamURL string, format Format, live bool) (*StreamSession, error)
}

// Registry is the single source of truth for active sessions. A coarse lock
// guards structural changes to the table; content mutation inside a session is
// guarded by the session's own lock.
type Registry struct {
	mu        sync.RWMutex
	store     Store
	artifacts *Artifacts
	log       *slog.Logger
}

// NewRegistry constructs a registry over the given store. artifacts may be nil
// when no on-disk manifest copies are kept.
func NewRegistry(store Store, artifacts *Artifacts, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, artifacts: artifacts, log: log}
}

// Get returns the session for id, touching its last-access time.
func (r *Registry) Get(id StreamID) (*StreamSession, bool) {
	r.mu.RLock()
	s, ok := r.store.Get(id)
	r.mu.RUnlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Put registers a session.
func (r *Registry) Put(s *StreamSession) {
	r.mu.Lock()
	r.store.Put(s)
	r.mu.Unlock()
}

// GetOrCreate returns the existing session for id, or rebuilds one from the
// fallback data (normally validated token claims) using factory. The build
// runs outside the registry lock so a slow origin never blocks other sessions.
func (r *Registry) GetOrCreate(ctx context.Context, id StreamID, streamURL string, format Format, live bool, factory SessionFactory) (*StreamSession, error) {
	if s, ok := r.Get(id); ok {
		return s, nil
	}

	built, err := factory.Build(ctx, id, streamURL, format, live)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have rebuilt the same session concurrently; keep the
	// first registered one and drop ours.
	if s, ok := r.store.Get(id); ok {
		s.Touch()
		return s, nil
	}
	r.store.Put(built)
	return built, nil
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []*StreamSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.List()
}

// ActiveSessionCount returns the number of registered sessions.
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.List())
}

// EvictIdle removes every session whose last access is older than ttl and
// returns the evicted ids. On-disk artifacts are removed best-effort:
// filesystem errors are logged and eviction proceeds to the next session.
func (r *Registry) EvictIdle(ttl time.Duration) []StreamID {
	cutoff := time.Now().UTC().Add(-ttl)

	r.mu.Lock()
	var evicted []StreamID
	for _, s := range r.store.List() {
		if s.LastAccess().Before(cutoff) {
			r.store.Delete(s.ID)
			evicted = append(evicted, s.ID)
		}
	}
	r.mu.Unlock()

	if r.artifacts != nil {
		for _, id := range evicted {
			if err := r.artifacts.Remove(id); err != nil {
				r.log.Error("remove session artifacts",
					slog.String("stream_id", string(id)),
					slog.String("error", err.Error()))
			}
		}
	}
	return evicted
}
