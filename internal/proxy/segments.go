package proxy

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// SegmentProxy reconstructs origin URLs from proxy-relative paths, fetches
// them with the session's auth reattached, and caches small responses in the
// owning session.
type SegmentProxy struct {
	fetcher *Fetcher

	// keyAuthToken is the injected credential for the third-party key
	// endpoint, forwarded as a bearer header on key fetches. Empty disables
	// the header.
	keyAuthToken string
}

// NewSegmentProxy returns a SegmentProxy using the given fetcher. keyAuthToken
// may be empty.
func NewSegmentProxy(fetcher *Fetcher, keyAuthToken string) *SegmentProxy {
	return &SegmentProxy{fetcher: fetcher, keyAuthToken: keyAuthToken}
}

// Resolve reconstructs the absolute origin URL for a proxy-relative path. The
// session's rewrite-time reference map is authoritative; paths not in the map
// (segments referenced from raw-proxied variant playlists, expanded DASH
// templates) are joined onto the manifest's directory. The session's auth
// query parameters are appended either way; parameters already on the
// reference are kept, with auth winning collisions.
func (p *SegmentProxy) Resolve(s *StreamSession, proxyPath string) (string, error) {
	origin, ok := s.ResolveRef(proxyPath)
	if !ok {
		joined, err := joinBase(s.BaseURL(), strings.TrimPrefix(proxyPath, keyPathPrefix))
		if err != nil {
			return "", err
		}
		origin = joined
	}

	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	mergeAuthQuery(u, s.AuthQuery())
	return u.String(), nil
}

// joinBase resolves a proxy-relative path against the directory containing the
// origin manifest.
func joinBase(base *url.URL, proxyPath string) (string, error) {
	ref, err := url.Parse(proxyPath)
	if err != nil {
		return "", err
	}
	dir := *base
	dir.Path = path.Dir(base.Path) + "/"
	return dir.ResolveReference(ref).String(), nil
}

// Fetch returns the bytes and content type for a proxy-relative path, serving
// from the session cache when possible. Results under the cache size limit are
// cached; failed fetches never are. cached reports whether this call was a
// cache hit.
func (p *SegmentProxy) Fetch(ctx context.Context, s *StreamSession, proxyPath string) (body []byte, contentType string, cached bool, err error) {
	if e, ok := s.CacheGet(proxyPath); ok {
		return e.Body, e.ContentType, true, nil
	}

	origin, err := p.Resolve(s, proxyPath)
	if err != nil {
		return nil, "", false, err
	}

	var header http.Header
	if p.keyAuthToken != "" && isKeyPath(proxyPath) {
		header = http.Header{"Authorization": []string{"Bearer " + p.keyAuthToken}}
	}

	body, contentType, err = p.fetcher.Fetch(ctx, origin, header)
	if err != nil {
		return nil, "", false, err
	}

	s.CachePut(proxyPath, CacheEntry{
		Body:        body,
		ContentType: contentType,
		InsertedAt:  time.Now().UTC(),
	})
	return body, contentType, false, nil
}

// isKeyPath reports whether a proxy path was written by the key rewrite.
func isKeyPath(proxyPath string) bool {
	return strings.HasPrefix(proxyPath, keyPathPrefix)
}
