// Package syncer rebuilds the geo index projection from the authoritative
// capacity store on a fixed schedule.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/stashfind/internal/stash/domain"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stash_sync_runs_total",
		Help: "Geo index sync runs grouped by outcome.",
	}, []string{"result"})

	syncedPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stash_sync_points",
		Help: "Storage points written to the geo index by the last successful sync.",
	})

	lastSyncUnix = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stash_sync_last_success_timestamp_seconds",
		Help: "Unix time of the last successful geo index sync.",
	})
)

// Config defines tunables for the sync job.
type Config struct {
	// Interval between runs. Defaults to 24h, the cadence the location data
	// tolerates; capacity freshness is the search path's job.
	Interval time.Duration
	// RunTimeout bounds a single run.
	RunTimeout time.Duration
}

// Syncer is the sole writer of the geo index. One instance owns the schedule
// at a time; single-runner execution is enforced by the deployment, not here.
type Syncer struct {
	store  domain.CapacityStore
	index  domain.GeoIndex
	events domain.EventPublisher
	logger *zap.Logger
	clock  domain.Clock
	cfg    Config
	tracer trace.Tracer
	synced atomic.Bool
}

// New constructs a Syncer. events may be nil.
func New(store domain.CapacityStore, index domain.GeoIndex, events domain.EventPublisher, logger *zap.Logger, clock domain.Clock, cfg Config) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Syncer{
		store:  store,
		index:  index,
		events: events,
		logger: logger,
		clock:  clock,
		cfg:    cfg,
		tracer: otel.Tracer("stash.syncer"),
	}
}

// Run executes one sync immediately, then keeps syncing on the configured
// interval until the context is cancelled. A failed run leaves the previous
// index state intact and is retried on the next tick.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("geo index sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Synced reports whether at least one run has completed successfully, which
// is when the index first reflects the capacity store.
func (s *Syncer) Synced() bool {
	return s.synced.Load()
}

// RunOnce reads the full storage-point set, upserts every entry and prunes
// points no longer present. Both steps are idempotent per point, so a crash
// mid-run never corrupts entries already written; re-running over unchanged
// data leaves the index observably identical.
func (s *Syncer) RunOnce(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "sync.run")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	points, err := s.store.ListStoragePoints(ctx)
	if err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: list storage points: %s", domain.ErrUpstreamUnavailable, err)
	}

	entries := make([]domain.GeoIndexEntry, 0, len(points))
	currentIDs := make(map[string]struct{}, len(points))
	for _, sp := range points {
		if err := sp.Location.Validate(); err != nil {
			// Unindexable either way; leaving it out of currentIDs also
			// evicts any previously indexed entry for it.
			s.logger.Warn("skipping storage point with malformed coordinates",
				zap.String("point_id", sp.ID), zap.Error(err))
			continue
		}
		entries = append(entries, domain.EntryFromStoragePoint(sp))
		currentIDs[sp.ID] = struct{}{}
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: geo index upsert: %s", domain.ErrUpstreamUnavailable, err)
	}
	if err := s.index.RemoveMissing(ctx, currentIDs); err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: geo index prune: %s", domain.ErrUpstreamUnavailable, err)
	}

	s.synced.Store(true)
	syncRunsTotal.WithLabelValues("ok").Inc()
	syncedPoints.Set(float64(len(entries)))
	lastSyncUnix.Set(float64(s.clock.Now().Unix()))
	s.logger.Info("geo index synced", zap.Int("points", len(entries)))

	if s.events != nil {
		_ = s.events.Publish(ctx, domain.Event{
			Type:    domain.EventIndexSynced,
			Payload: map[string]any{"points": len(entries)},
			At:      s.clock.Now(),
		})
	}
	return nil
}
