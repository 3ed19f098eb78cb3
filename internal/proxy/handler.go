package proxy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"stream-proxy/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

//go:embed index.html
var indexPage []byte

// Handler exposes the stream proxy HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and
// optional Metrics. Metrics may be nil to disable metric recording (e.g. in
// tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts all proxy endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Index)
	r.Get("/process_m3u8", h.ProcessM3U8)
	r.Route("/api", func(r chi.Router) {
		r.Post("/create_stream", h.CreateStream)
		r.Get("/info/{token}", h.Info)
		r.Route("/stream/{token}", func(r chi.Router) {
			r.Get("/manifest.mpd", h.Manifest)
			r.Get("/playlist.m3u8", h.Manifest)
			r.Get("/manifest.m3u8", h.Manifest)
			r.Get("/*", h.Segment)
		})
	})
}

type createStreamRequest struct {
	StreamURL string `json:"stream_url"`
	IsLive    bool   `json:"is_live"`
}

// CreateStream handles POST /api/create_stream.
// Body: { "stream_url": "...", "is_live": false }.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Stream URL is required")
		return
	}

	info, err := h.svc.CreateStream(r.Context(), req.StreamURL, req.IsLive)
	if err != nil {
		switch {
		case errors.Is(err, ErrStreamURLRequired), errors.Is(err, ErrUnsupportedManifest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("create stream failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to fetch manifest file")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncStreamsCreated()
	}
	writeJSON(w, http.StatusOK, info)
}

// Manifest handles GET /api/stream/{token}/manifest.mpd, playlist.m3u8, and
// manifest.m3u8.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	body, contentType, err := h.svc.Manifest(r.Context(), token)
	if err != nil {
		h.writeServeError(w, err, "serve manifest")
		return
	}

	if h.metrics != nil {
		h.metrics.IncManifestsServed()
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Segment handles GET /api/stream/{token}/* for segment and key paths.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	proxyPath := chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		proxyPath += "?" + r.URL.RawQuery
	}

	body, contentType, cached, err := h.svc.Segment(r.Context(), token, proxyPath)
	if err != nil {
		h.writeServeError(w, err, "serve segment")
		return
	}

	if h.metrics != nil {
		h.metrics.IncSegmentsServed()
		if cached {
			h.metrics.IncCacheHits()
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Info handles GET /api/info/{token}.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	info, err := h.svc.Info(token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		case errors.Is(err, ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Stream not found")
		default:
			h.log.Error("stream info failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to load stream info")
		}
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ProcessM3U8 handles GET /process_m3u8?url=... and returns a session-less
// rewritten playlist with origin auth appended inline.
func (h *Handler) ProcessM3U8(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	body, err := h.svc.ProcessPlaylist(r.Context(), rawURL)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedManifest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("process playlist failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to process playlist")
		}
		return
	}

	w.Header().Set("Content-Type", ContentTypeHLS)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Index serves the embedded HTML test page.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(indexPage)
}

// writeServeError maps serving errors for manifest/segment endpoints.
func (h *Handler) writeServeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	default:
		h.log.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to fetch from origin")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
