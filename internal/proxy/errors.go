package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamURLRequired is returned when a create-stream request carries no URL.
	ErrStreamURLRequired = errors.New("stream URL is required")

	// ErrUnsupportedManifest is returned when the manifest URL path ends in
	// neither .mpd nor .m3u8.
	ErrUnsupportedManifest = errors.New("URL must be an MPD or M3U8 manifest")

	// ErrTokenInvalid is returned for malformed tokens or signature mismatches.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound is returned by lookups that do not rebuild sessions.
	ErrSessionNotFound = errors.New("stream not found")

	// ErrManifestParse is returned when a fetched manifest cannot be rewritten.
	// A partially rewritten manifest is never served.
	ErrManifestParse = errors.New("malformed manifest")

	// ErrUpstream is the common marker for origin fetch failures, both
	// transport errors and non-2xx responses. Match with errors.Is.
	ErrUpstream = errors.New("upstream fetch failed")
)

// UpstreamStatusError reports a non-2xx origin response. It matches ErrUpstream
// under errors.Is while keeping the status code available to callers.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("origin returned status %d", e.StatusCode)
}

// Is reports whether target is ErrUpstream.
func (e *UpstreamStatusError) Is(target error) bool {
	return target == ErrUpstream
}
