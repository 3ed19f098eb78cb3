package proxy

import (
	"context"
	"log/slog"
	"time"

	"stream-proxy/internal/platform/metrics"

	"golang.org/x/sync/semaphore"
)

// Refresh defaults. Live manifests are refreshed on a short cadence, but only
// for sessions a client has touched recently.
const (
	DefaultRefreshInterval    = 10 * time.Second
	DefaultRefreshWindow      = 5 * time.Minute
	DefaultRefreshConcurrency = 4
)

// Cleanup defaults.
const (
	DefaultCleanupInterval = time.Hour
	DefaultSessionTTL      = time.Hour
)

// refresher re-fetches and re-rewrites one session's manifest.
type refresher interface {
	Refresh(ctx context.Context, session *StreamSession) bool
}

// RefreshScheduler periodically refreshes live sessions that have been
// accessed within the freshness window. In-flight refreshes are bounded by a
// weighted semaphore so many simultaneous live sessions cannot overload the
// origin.
type RefreshScheduler struct {
	registry *Registry
	svc      refresher
	interval time.Duration
	window   time.Duration
	sem      *semaphore.Weighted
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewRefreshScheduler constructs a refresh scheduler. Non-positive values fall
// back to the defaults. metrics may be nil.
func NewRefreshScheduler(registry *Registry, svc refresher, interval, window time.Duration, concurrency int64, log *slog.Logger, m *metrics.Metrics) *RefreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if window <= 0 {
		window = DefaultRefreshWindow
	}
	if concurrency <= 0 {
		concurrency = DefaultRefreshConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &RefreshScheduler{
		registry: registry,
		svc:      svc,
		interval: interval,
		window:   window,
		sem:      semaphore.NewWeighted(concurrency),
		log:      log,
		metrics:  m,
	}
}

// Run loops until ctx is cancelled, refreshing on every tick.
func (s *RefreshScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("refresh scheduler started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

// refreshOnce starts a refresh for every recently accessed live session.
// Acquiring the semaphore blocks when the fan-out limit is reached, so a slow
// origin naturally throttles the scan.
func (s *RefreshScheduler) refreshOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.window)

	for _, session := range s.registry.Sessions() {
		if !session.Live || session.LastAccess().Before(cutoff) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(session *StreamSession) {
			defer s.sem.Release(1)
			if s.metrics != nil {
				s.metrics.IncRefresh()
			}
			if !s.svc.Refresh(ctx, session) && s.metrics != nil {
				s.metrics.IncRefreshFailures()
			}
		}(session)
	}
}

// CleanupScheduler periodically evicts sessions idle beyond the TTL,
// reclaiming their caches and on-disk artifacts.
type CleanupScheduler struct {
	registry *Registry
	interval time.Duration
	ttl      time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewCleanupScheduler constructs a cleanup scheduler. Non-positive values fall
// back to the defaults. metrics may be nil.
func NewCleanupScheduler(registry *Registry, interval, ttl time.Duration, log *slog.Logger, m *metrics.Metrics) *CleanupScheduler {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &CleanupScheduler{registry: registry, interval: interval, ttl: ttl, log: log, metrics: m}
}

// Run loops until ctx is cancelled, evicting on every tick.
func (s *CleanupScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("cleanup scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("ttl", s.ttl))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("cleanup scheduler stopped")
			return
		case <-ticker.C:
			evicted := s.registry.EvictIdle(s.ttl)
			if len(evicted) > 0 {
				s.log.Info("evicted idle sessions", slog.Int("count", len(evicted)))
				if s.metrics != nil {
					s.metrics.AddSessionsEvicted(len(evicted))
				}
			}
		}
	}
}
