package proxy

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Format identifies the manifest family of a stream.
type Format string

const (
	// FormatHLS is HTTP Live Streaming (.m3u8 manifests).
	FormatHLS Format = "HLS"
	// FormatDASH is Dynamic Adaptive Streaming over HTTP (.mpd manifests).
	FormatDASH Format = "DASH"
)

// StreamID uniquely identifies a stream session.
type StreamID string

// maxCacheObjectSize is the largest origin response the segment cache will
// hold. Larger responses are served but never cached.
const maxCacheObjectSize = 10 << 20 // 10 MiB

// CacheEntry is one cached origin response.
type CacheEntry struct {
	Body        []byte
	ContentType string
	InsertedAt  time.Time
}

// StreamSession is the server-side state for one client's access to one origin
// stream. The registry owns the structural lifecycle (insert/remove); the
// session's own mutex guards manifest content, the reference map, the segment
// cache, and the last-access timestamp, so mutating one session never blocks
// requests on another.
type StreamSession struct {
	ID        StreamID
	StreamURL string
	Format    Format
	Live      bool
	CreatedAt time.Time

	// Derived from StreamURL at construction, immutable afterwards.
	base      *url.URL
	authQuery url.Values

	mu         sync.Mutex
	raw        []byte
	rewritten  []byte
	refs       map[string]string
	cache      map[string]CacheEntry
	lastAccess time.Time
}

// newStreamSession builds a session shell from the origin manifest URL. The
// URL's query string becomes the session's origin auth parameters and is
// stripped from the stored base URL. The manifest is fetched and rewritten
// separately before the session is registered.
func newStreamSession(id StreamID, streamURL string, format Format, live bool) (*StreamSession, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}

	auth := u.Query()
	base := *u
	base.RawQuery = ""
	base.Fragment = ""

	now := time.Now().UTC()
	return &StreamSession{
		ID:         id,
		StreamURL:  streamURL,
		Format:     format,
		Live:       live,
		CreatedAt:  now,
		base:       &base,
		authQuery:  auth,
		cache:      make(map[string]CacheEntry),
		lastAccess: now,
	}, nil
}

// BaseURL returns the origin manifest URL without its query string.
func (s *StreamSession) BaseURL() *url.URL {
	u := *s.base
	return &u
}

// AuthQuery returns the origin auth query parameters. The returned values must
// be treated as read-only.
func (s *StreamSession) AuthQuery() url.Values {
	return s.authQuery
}

// Touch updates the last-access timestamp.
func (s *StreamSession) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now().UTC()
	s.mu.Unlock()
}

// LastAccess returns the last-access timestamp.
func (s *StreamSession) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Manifest returns the current rewritten manifest bytes.
func (s *StreamSession) Manifest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewritten
}

// SetManifest installs a freshly fetched raw manifest together with its
// rewritten form and the proxy-reference map produced by the rewrite. The
// three always change together so the rewritten manifest is derived from this
// session's own most recent raw manifest.
func (s *StreamSession) SetManifest(raw, rewritten []byte, refs map[string]string) {
	s.mu.Lock()
	s.raw = raw
	s.rewritten = rewritten
	s.refs = refs
	s.mu.Unlock()
}

// ResolveRef looks up the absolute origin URL recorded at rewrite time for the
// given proxy-relative reference.
func (s *StreamSession) ResolveRef(ref string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin, ok := s.refs[ref]
	return origin, ok
}

// CacheGet returns the cached response for the given proxy path, if present.
func (s *StreamSession) CacheGet(path string) (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[path]
	return e, ok
}

// CachePut stores a response in the session cache unless the payload exceeds
// the cache object size limit. There is no per-entry eviction; the cache is
// reclaimed when the session is evicted.
func (s *StreamSession) CachePut(path string, e CacheEntry) {
	if len(e.Body) >= maxCacheObjectSize {
		return
	}
	s.mu.Lock()
	s.cache[path] = e
	s.mu.Unlock()
}
