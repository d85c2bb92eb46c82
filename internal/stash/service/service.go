// Package service orchestrates availability searches: geo candidate
// selection, per-candidate capacity lookups, availability computation and
// distance ranking.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/stashfind/internal/stash/availability"
	"github.com/example/stashfind/internal/stash/domain"
	"github.com/example/stashfind/internal/stash/geoindex"
)

// Config tunes the search path.
type Config struct {
	// DefaultRadiusKM applies when the request carries no radius.
	DefaultRadiusKM float64
	// LookupTimeout bounds each capacity lookup. A candidate whose lookup
	// exceeds it is treated as unknown and excluded.
	LookupTimeout time.Duration
	// MaxConcurrentLookups caps parallel capacity lookups per search.
	MaxConcurrentLookups int
}

// Service serves concurrent availability searches. It holds no mutable state
// of its own; the geo index read path is the only shared structure touched.
type Service struct {
	geo      domain.GeoIndex
	profiles domain.ProfileSource
	events   domain.EventPublisher
	logger   *zap.Logger
	clock    domain.Clock
	cfg      Config
	tracer   trace.Tracer
}

// New constructs a Service with the required collaborators. events may be
// nil.
func New(geo domain.GeoIndex, profiles domain.ProfileSource, events domain.EventPublisher, logger *zap.Logger, clock domain.Clock, cfg Config) *Service {
	if cfg.DefaultRadiusKM <= 0 {
		cfg.DefaultRadiusKM = 10
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	if cfg.MaxConcurrentLookups <= 0 {
		cfg.MaxConcurrentLookups = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		geo:      geo,
		profiles: profiles,
		events:   events,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
		tracer:   otel.Tracer("stash.search"),
	}
}

// Search returns every storage point within the requested radius that can
// accept the booking, ordered by ascending great-circle distance with ties
// broken by point id. A failing capacity lookup drops only that candidate; a
// failing geo index fails the whole search.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	ctx, span := s.tracer.Start(ctx, "search")
	defer span.End()
	started := time.Now()

	if err := req.Normalize(s.cfg.DefaultRadiusKM); err != nil {
		searchDuration.WithLabelValues("invalid").Observe(time.Since(started).Seconds())
		return nil, err
	}

	candidates, err := s.geo.Query(ctx, req.Location, req.RadiusKM)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			searchDuration.WithLabelValues("invalid").Observe(time.Since(started).Seconds())
			return nil, err
		}
		searchDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return nil, fmt.Errorf("%w: geo index query: %s", domain.ErrUpstreamUnavailable, err)
	}
	searchCandidates.Observe(float64(len(candidates)))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]domain.SearchResult, 0, len(candidates))
		sem     = make(chan struct{}, s.cfg.MaxConcurrentLookups)
	)
	for _, entry := range candidates {
		// Closed points need no capacity lookup; the original pipeline
		// filtered on opening hours before touching booking data too.
		if !availability.WithinOperatingHours(entry.OpenFrom, entry.OpenUntil, req.Dropoff, req.Pickup) {
			continue
		}
		wg.Add(1)
		go func(entry domain.GeoIndexEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if res, ok := s.evaluate(ctx, entry, req); ok {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}(entry)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		searchDuration.WithLabelValues("cancelled").Observe(time.Since(started).Seconds())
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].DistanceKM != results[j].DistanceKM {
			return results[i].DistanceKM < results[j].DistanceKM
		}
		return results[i].PointID < results[j].PointID
	})

	searchDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	return results, nil
}

func (s *Service) evaluate(ctx context.Context, entry domain.GeoIndexEntry, req domain.SearchRequest) (domain.SearchResult, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	profile, err := s.profiles.Profile(lookupCtx, entry.PointID, req.Dropoff, req.Pickup)
	if err != nil {
		droppedCandidates.Inc()
		s.logger.Warn("capacity lookup failed, excluding candidate",
			zap.String("point_id", entry.PointID), zap.Error(err))
		return domain.SearchResult{}, false
	}

	outcome := availability.Compute(entry.Capacity, profile.Intervals, req.Dropoff, req.Pickup)
	if outcome.Violation {
		s.observeViolation(ctx, entry, outcome)
	}
	if outcome.Available < req.BagCount {
		return domain.SearchResult{}, false
	}

	return domain.SearchResult{
		PointID:           entry.PointID,
		Name:              entry.Name,
		Address:           entry.Address,
		Location:          entry.Location,
		DistanceKM:        geoindex.HaversineKM(req.Location, entry.Location),
		Capacity:          entry.Capacity,
		AvailableCapacity: outcome.Available,
		OpenFrom:          entry.OpenFrom,
		OpenUntil:         entry.OpenUntil,
	}, true
}

func (s *Service) observeViolation(ctx context.Context, entry domain.GeoIndexEntry, outcome availability.Outcome) {
	invariantViolations.Inc()
	s.logger.Error("booked bags exceed total capacity",
		zap.String("point_id", entry.PointID),
		zap.Int("capacity", entry.Capacity),
		zap.Int("peak_bags", outcome.PeakBags))
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, domain.Event{
		Type:    domain.EventCapacityInvariantViolated,
		PointID: entry.PointID,
		Payload: map[string]any{"capacity": entry.Capacity, "peak_bags": outcome.PeakBags},
		At:      s.clock.Now(),
	})
}
