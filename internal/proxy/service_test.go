package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// testOrigin is a fake origin serving a mutable playlist plus segments.
type testOrigin struct {
	mu       sync.Mutex
	playlist string
	fail     bool
	srv      *httptest.Server
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	o := &testOrigin{
		playlist: "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg1.ts\n",
	}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		fail := o.fail
		playlist := o.playlist
		o.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Header().Set("Content-Type", ContentTypeHLS)
			w.Write([]byte(playlist))
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write([]byte("segment-bytes"))
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *testOrigin) setPlaylist(p string) {
	o.mu.Lock()
	o.playlist = p
	o.mu.Unlock()
}

func (o *testOrigin) setFail(fail bool) {
	o.mu.Lock()
	o.fail = fail
	o.mu.Unlock()
}

func (o *testOrigin) manifestURL() string {
	return o.srv.URL + "/live/playlist.m3u8?auth=tok"
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	registry := NewRegistry(NewInMemoryStore(), nil, log)
	fetcher := NewFetcher(time.Second)
	segments := NewSegmentProxy(fetcher, "")
	return NewService(issuer, registry, fetcher, segments, nil, NamingPath, log)
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		url    string
		format Format
		err    error
	}{
		{"https://o.example.com/a/master.m3u8", FormatHLS, nil},
		{"https://o.example.com/a/master.M3U8?sig=1", FormatHLS, nil},
		{"https://o.example.com/a/manifest.mpd?x=1&y=2", FormatDASH, nil},
		{"https://o.example.com/a/readme.txt", "", ErrUnsupportedManifest},
		{"https://o.example.com/a/stream", "", ErrUnsupportedManifest},
		{"", "", ErrStreamURLRequired},
	}
	for _, tc := range cases {
		format, err := DetectFormat(tc.url)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("DetectFormat(%q): expected %v, got %v", tc.url, tc.err, err)
			}
			continue
		}
		if err != nil || format != tc.format {
			t.Errorf("DetectFormat(%q): got %q, %v", tc.url, format, err)
		}
	}
}

func TestService_CreateStream(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), false)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if info.Token == "" || info.StreamID == "" {
		t.Error("expected non-empty token and stream id")
	}
	if info.ManifestURL != "/api/stream/"+info.Token+"/playlist.m3u8" {
		t.Errorf("manifest URL: got %q", info.ManifestURL)
	}
	if info.Format != FormatHLS {
		t.Errorf("format: got %q", info.Format)
	}
	if svc.Registry().ActiveSessionCount() != 1 {
		t.Error("session should be registered")
	}
}

func TestService_CreateStream_upstream_failure(t *testing.T) {
	origin := newTestOrigin(t)
	origin.setFail(true)
	svc := newTestService(t)

	_, err := svc.CreateStream(context.Background(), origin.manifestURL(), false)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if svc.Registry().ActiveSessionCount() != 0 {
		t.Error("failed create must not register a session")
	}
}

func TestService_Manifest_rebuilds_evicted_session(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), false)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	// Simulate registry loss (restart): the token alone must be enough.
	svc.Registry().EvictIdle(0)
	if svc.Registry().ActiveSessionCount() != 0 {
		t.Fatal("setup: registry should be empty")
	}

	body, contentType, err := svc.Manifest(context.Background(), info.Token)
	if err != nil {
		t.Fatalf("Manifest after eviction: %v", err)
	}
	if contentType != ContentTypeHLS {
		t.Errorf("content type: got %q", contentType)
	}
	if !strings.Contains(string(body), "seg1.ts") {
		t.Errorf("rebuilt manifest should contain segments:\n%s", body)
	}
	if svc.Registry().ActiveSessionCount() != 1 {
		t.Error("session should be re-registered")
	}
}

func TestService_Manifest_live_refetches_per_request(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), true)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	origin.setPlaylist("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg2.ts\n")
	body, _, err := svc.Manifest(context.Background(), info.Token)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if !strings.Contains(string(body), "seg2.ts") {
		t.Errorf("live manifest should track the origin without waiting:\n%s", body)
	}

	// A failed re-fetch still serves the last good manifest.
	origin.setFail(true)
	body, _, err = svc.Manifest(context.Background(), info.Token)
	if err != nil {
		t.Fatalf("Manifest with origin down: %v", err)
	}
	if !strings.Contains(string(body), "seg2.ts") {
		t.Errorf("origin failure must not clobber the served manifest:\n%s", body)
	}
}

func TestService_Manifest_vod_serves_stored(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), false)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	origin.setPlaylist("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg2.ts\n")
	body, _, err := svc.Manifest(context.Background(), info.Token)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if strings.Contains(string(body), "seg2.ts") {
		t.Errorf("VOD manifests are fetched once, not per request:\n%s", body)
	}
}

func TestService_Segment(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), false)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	body, contentType, _, err := svc.Segment(context.Background(), info.Token, "seg1.ts")
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if string(body) != "segment-bytes" || contentType != "video/mp2t" {
		t.Errorf("segment: got %q %q", body, contentType)
	}
}

func TestService_Info(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), true)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	got, err := svc.Info(info.Token)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if got.StreamID != info.StreamID || !got.IsLive || got.Format != FormatHLS {
		t.Errorf("Info: got %+v", got)
	}
	if got.StreamURL != origin.manifestURL() {
		t.Errorf("stream URL: got %q", got.StreamURL)
	}
	if got.CreatedAt <= 0 || got.CreatedAt > time.Now().Unix() {
		t.Errorf("created_at: got %d", got.CreatedAt)
	}

	svc.Registry().EvictIdle(0)
	if _, err := svc.Info(info.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Info after eviction: expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_Refresh(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), true)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	session, ok := svc.Registry().Get(StreamID(info.StreamID))
	if !ok {
		t.Fatal("session missing")
	}

	origin.setPlaylist("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg2.ts\n")
	if !svc.Refresh(context.Background(), session) {
		t.Fatal("Refresh should succeed")
	}
	if !strings.Contains(string(session.Manifest()), "seg2.ts") {
		t.Errorf("refreshed manifest should carry the new segment:\n%s", session.Manifest())
	}

	// A failed refresh leaves the previous manifest intact.
	origin.setFail(true)
	if svc.Refresh(context.Background(), session) {
		t.Error("Refresh should report failure")
	}
	if !strings.Contains(string(session.Manifest()), "seg2.ts") {
		t.Errorf("failed refresh must not clobber the manifest:\n%s", session.Manifest())
	}
}

func TestService_ProcessPlaylist(t *testing.T) {
	origin := newTestOrigin(t)
	svc := newTestService(t)

	out, err := svc.ProcessPlaylist(context.Background(), origin.manifestURL())
	if err != nil {
		t.Fatalf("ProcessPlaylist: %v", err)
	}
	if !strings.Contains(string(out), "/live/seg1.ts?auth=tok") {
		t.Errorf("inline rewrite should append origin auth:\n%s", out)
	}

	if _, err := svc.ProcessPlaylist(context.Background(), origin.srv.URL+"/live/manifest.mpd"); !errors.Is(err, ErrUnsupportedManifest) {
		t.Errorf("DASH input should be rejected, got %v", err)
	}
}

func TestService_saves_artifacts(t *testing.T) {
	origin := newTestOrigin(t)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	artifacts := NewArtifacts(t.TempDir())
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	registry := NewRegistry(NewInMemoryStore(), artifacts, log)
	fetcher := NewFetcher(time.Second)
	svc := NewService(issuer, registry, fetcher, NewSegmentProxy(fetcher, ""), artifacts, NamingPath, log)

	info, err := svc.CreateStream(context.Background(), origin.manifestURL(), false)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	dir := artifacts.Dir(StreamID(info.StreamID))
	for _, name := range []string{"playlist.m3u8", "playlist.m3u8.orig"} {
		if _, err := os.Stat(dir + "/" + name); err != nil {
			t.Errorf("expected artifact %s: %v", name, err)
		}
	}
}
