package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
)

// Content types for the two manifest families.
const (
	ContentTypeHLS  = "application/vnd.apple.mpegurl"
	ContentTypeDASH = "application/dash+xml"
)

// StreamInfo is the client-facing description of a session, returned by
// create-stream and info calls.
type StreamInfo struct {
	Token       string `json:"token,omitempty"`
	StreamID    string `json:"stream_id"`
	StreamURL   string `json:"stream_url,omitempty"`
	ManifestURL string `json:"manifest_url"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
	IsLive      bool   `json:"is_live"`
	Format      Format `json:"format"`
}

// Service ties the issuer, registry, fetcher, rewriters, and segment proxy
// together behind the operations the HTTP layer calls.
type Service struct {
	issuer    *Issuer
	registry  *Registry
	fetcher   *Fetcher
	segments  *SegmentProxy
	artifacts *Artifacts
	naming    NamingStrategy
	log       *slog.Logger
}

// NewService wires a Service. artifacts may be nil to skip on-disk manifest
// copies.
func NewService(issuer *Issuer, registry *Registry, fetcher *Fetcher, segments *SegmentProxy, artifacts *Artifacts, naming NamingStrategy, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		issuer:    issuer,
		registry:  registry,
		fetcher:   fetcher,
		segments:  segments,
		artifacts: artifacts,
		naming:    naming,
		log:       log,
	}
}

// DetectFormat classifies a manifest URL by its path extension. The query
// string is ignored, so signed origin URLs classify correctly.
func DetectFormat(streamURL string) (Format, error) {
	if streamURL == "" {
		return "", ErrStreamURLRequired
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedManifest, err)
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".mpd":
		return FormatDASH, nil
	case ".m3u8":
		return FormatHLS, nil
	}
	return "", ErrUnsupportedManifest
}

// ManifestFileName returns the client-facing manifest file name for a format.
func ManifestFileName(format Format) string {
	if format == FormatDASH {
		return "manifest.mpd"
	}
	return "playlist.m3u8"
}

// ContentTypeFor returns the manifest content type for a format.
func ContentTypeFor(format Format) string {
	if format == FormatDASH {
		return ContentTypeDASH
	}
	return ContentTypeHLS
}

// CreateStream validates the origin URL, mints a token, and builds and
// registers the session. The manifest is fetched and rewritten synchronously;
// any upstream or parse failure fails the whole call and nothing is
// registered.
func (s *Service) CreateStream(ctx context.Context, streamURL string, live bool) (*StreamInfo, error) {
	format, err := DetectFormat(streamURL)
	if err != nil {
		return nil, err
	}

	token, id, expiry, err := s.issuer.Issue(streamURL, format, live)
	if err != nil {
		return nil, err
	}

	session, err := s.Build(ctx, id, streamURL, format, live)
	if err != nil {
		return nil, err
	}
	s.registry.Put(session)

	s.log.Info("stream created",
		slog.String("stream_id", string(id)),
		slog.String("format", string(format)),
		slog.Bool("live", live))

	return &StreamInfo{
		Token:       token,
		StreamID:    string(id),
		ManifestURL: manifestURLFor(token, format),
		CreatedAt:   session.CreatedAt.Unix(),
		ExpiresAt:   expiry.Unix(),
		IsLive:      live,
		Format:      format,
	}, nil
}

func manifestURLFor(token string, format Format) string {
	return "/api/stream/" + token + "/" + ManifestFileName(format)
}

// Build implements SessionFactory: it constructs the session shell, fetches
// the origin manifest, rewrites it, and persists artifacts.
func (s *Service) Build(ctx context.Context, id StreamID, streamURL string, format Format, live bool) (*StreamSession, error) {
	session, err := newStreamSession(id, streamURL, format, live)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedManifest, err)
	}
	if err := s.fetchAndRewrite(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// fetchAndRewrite fetches the origin manifest and installs the rewritten form
// in the session, saving on-disk copies best-effort.
func (s *Service) fetchAndRewrite(ctx context.Context, session *StreamSession) error {
	raw, _, err := s.fetcher.Fetch(ctx, session.StreamURL, nil)
	if err != nil {
		return err
	}

	rewriter := RewriterFor(session.Format, s.naming)
	result, err := rewriter.Rewrite(raw, session.BaseURL())
	if err != nil {
		return err
	}

	session.SetManifest(raw, result.Manifest, result.Refs)
	s.saveArtifacts(session, raw, result.Manifest)
	return nil
}

// saveArtifacts writes the raw and rewritten manifest text under the session's
// artifact directory. Failures are logged, never propagated.
func (s *Service) saveArtifacts(session *StreamSession, raw, rewritten []byte) {
	if s.artifacts == nil {
		return
	}
	name := ManifestFileName(session.Format)
	for file, data := range map[string][]byte{
		name + ".orig": raw,
		name:           rewritten,
	} {
		if err := s.artifacts.Save(session.ID, file, data); err != nil {
			s.log.Error("save manifest artifact",
				slog.String("stream_id", string(session.ID)),
				slog.String("file", file),
				slog.String("error", err.Error()))
		}
	}
}

// Manifest validates the token and returns the session's rewritten manifest.
// An evicted session is rebuilt from the token's claims. Live sessions are
// re-fetched on every call so the client always reads the current live edge;
// when the re-fetch fails the prior manifest is served.
func (s *Service) Manifest(ctx context.Context, token string) ([]byte, string, error) {
	claims, session, err := s.resolveSession(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if session.Live {
		s.Refresh(ctx, session)
	}
	return session.Manifest(), ContentTypeFor(claims.Format), nil
}

// Segment validates the token and proxies one segment or key fetch.
func (s *Service) Segment(ctx context.Context, token, proxyPath string) ([]byte, string, bool, error) {
	_, session, err := s.resolveSession(ctx, token)
	if err != nil {
		return nil, "", false, err
	}
	body, contentType, cached, err := s.segments.Fetch(ctx, session, proxyPath)
	if err != nil {
		s.log.Error("segment fetch",
			slog.String("stream_id", string(session.ID)),
			slog.String("path", proxyPath),
			slog.String("error", err.Error()))
		return nil, "", false, err
	}
	return body, contentType, cached, nil
}

// Info returns metadata for an existing session. Unlike manifest and segment
// serving it does not rebuild evicted sessions.
func (s *Service) Info(token string) (*StreamInfo, error) {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return nil, err
	}
	session, ok := s.registry.Get(StreamID(claims.StreamID))
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &StreamInfo{
		StreamID:    claims.StreamID,
		StreamURL:   claims.StreamURL,
		ManifestURL: manifestURLFor(token, claims.Format),
		CreatedAt:   session.CreatedAt.Unix(),
		ExpiresAt:   claims.ExpiresAt.Unix(),
		IsLive:      session.Live,
		Format:      claims.Format,
	}, nil
}

// ProcessPlaylist fetches a playlist and rewrites it statelessly with the
// origin auth appended inline to every reference.
func (s *Service) ProcessPlaylist(ctx context.Context, rawURL string) ([]byte, error) {
	format, err := DetectFormat(rawURL)
	if err != nil {
		return nil, err
	}
	if format != FormatHLS {
		return nil, ErrUnsupportedManifest
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedManifest, err)
	}

	raw, _, err := s.fetcher.Fetch(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return RewriteInlineHLS(raw, u)
}

// Refresh re-fetches and re-rewrites a live session's manifest in place.
// On failure the previous rewritten manifest stays intact and Refresh reports
// false.
func (s *Service) Refresh(ctx context.Context, session *StreamSession) bool {
	if err := s.fetchAndRewrite(ctx, session); err != nil {
		s.log.Warn("manifest refresh failed",
			slog.String("stream_id", string(session.ID)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// resolveSession validates the token and returns the live session, rebuilding
// it from claims when it has been evicted.
func (s *Service) resolveSession(ctx context.Context, token string) (*StreamClaims, *StreamSession, error) {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.registry.GetOrCreate(ctx, StreamID(claims.StreamID), claims.StreamURL, claims.Format, claims.Live, s)
	if err != nil {
		return nil, nil, err
	}
	return claims, session, nil
}

// Issuer exposes the token issuer, for wiring and tests.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Registry exposes the session registry, for schedulers and metrics.
func (s *Service) Registry() *Registry { return s.registry }

var _ SessionFactory = (*Service)(nil)
