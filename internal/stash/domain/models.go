package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidArgument marks request validation failures. Surfaced to the
// caller before any backend lookup happens.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrUpstreamUnavailable marks infrastructure failures of the capacity store
// or the geo index backing store.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// GeoPoint is a WGS84 coordinate pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates outside the WGS84 domain.
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidArgument, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidArgument, p.Lng)
	}
	return nil
}

// StoragePoint is the authoritative record of a physical bag storage
// location. Owned by the capacity store; immutable within a search request.
type StoragePoint struct {
	ID        string
	Name      string
	Address   string
	Location  GeoPoint
	Capacity  int
	OpenFrom  DayTime
	OpenUntil DayTime
}

// BookedInterval is one booking's committed bags over a half-open window
// [Start, End).
type BookedInterval struct {
	ID    uuid.UUID
	Start time.Time
	End   time.Time
	Bags  int
}

// Overlaps reports whether the interval intersects the half-open window
// [start, end).
func (b BookedInterval) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// CapacityProfile is the set of booked intervals for one storage point.
// Intervals may overlap each other (independent bookings).
type CapacityProfile struct {
	PointID   string           `json:"point_id"`
	Intervals []BookedInterval `json:"intervals"`
}

// GeoIndexEntry is the denormalized, read-optimized projection of a
// StoragePoint held by the geo index. Static fields ride along so a search
// needs no extra round trip for them. Every entry id is expected to exist in
// the capacity store; staleness is bounded by the sync interval.
type GeoIndexEntry struct {
	PointID   string   `json:"point_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Location  GeoPoint `json:"location"`
	Capacity  int      `json:"capacity"`
	OpenFrom  DayTime  `json:"open_from"`
	OpenUntil DayTime  `json:"open_until"`
}

// EntryFromStoragePoint builds the index projection of a storage point.
func EntryFromStoragePoint(sp StoragePoint) GeoIndexEntry {
	return GeoIndexEntry{
		PointID:   sp.ID,
		Name:      sp.Name,
		Address:   sp.Address,
		Location:  sp.Location,
		Capacity:  sp.Capacity,
		OpenFrom:  sp.OpenFrom,
		OpenUntil: sp.OpenUntil,
	}
}

// SearchRequest carries the semantic search parameters. The boundary layer
// parses types and presence; semantic invariants are re-checked here.
type SearchRequest struct {
	Location GeoPoint
	Dropoff  time.Time
	Pickup   time.Time
	BagCount int
	RadiusKM float64
}

// Normalize applies the default radius when none was requested and validates
// the semantic invariants.
func (r *SearchRequest) Normalize(defaultRadiusKM float64) error {
	if err := r.Location.Validate(); err != nil {
		return err
	}
	if r.RadiusKM == 0 {
		r.RadiusKM = defaultRadiusKM
	}
	if r.RadiusKM <= 0 {
		return fmt.Errorf("%w: radius_km must be positive", ErrInvalidArgument)
	}
	if r.BagCount < 1 {
		return fmt.Errorf("%w: bag_count must be at least 1", ErrInvalidArgument)
	}
	if !r.Dropoff.Before(r.Pickup) {
		return fmt.Errorf("%w: dropoff must be before pickup", ErrInvalidArgument)
	}
	return nil
}

// SearchResult is the per-point outcome of an availability search. Derived,
// request-scoped, never persisted.
type SearchResult struct {
	PointID           string
	Name              string
	Address           string
	Location          GeoPoint
	DistanceKM        float64
	Capacity          int
	AvailableCapacity int
	OpenFrom          DayTime
	OpenUntil         DayTime
}

// GeoIndex is the spatial candidate-selection structure. The sync process is
// its only writer; Query must stay safe under many concurrent readers.
type GeoIndex interface {
	Upsert(ctx context.Context, entries []GeoIndexEntry) error
	RemoveMissing(ctx context.Context, currentIDs map[string]struct{}) error
	Query(ctx context.Context, center GeoPoint, radiusKM float64) ([]GeoIndexEntry, error)
}

// CapacityStore is the read interface of the authoritative storage-point and
// booking record. GetCapacityProfile may return a superset of the window;
// callers filter defensively.
type CapacityStore interface {
	ListStoragePoints(ctx context.Context) ([]StoragePoint, error)
	GetCapacityProfile(ctx context.Context, pointID string, windowStart, windowEnd time.Time) (CapacityProfile, error)
}

// ProfileSource provides per-point capacity profiles to the search path.
// Implementations may cache, but only with a TTL well under the booking
// granularity.
type ProfileSource interface {
	Profile(ctx context.Context, pointID string, windowStart, windowEnd time.Time) (CapacityProfile, error)
}

type EventType string

const (
	EventIndexSynced               EventType = "IndexSynced"
	EventCapacityInvariantViolated EventType = "CapacityInvariantViolated"
)

// Event is an observability fact emitted by the core.
type Event struct {
	Type    EventType      `json:"type"`
	PointID string         `json:"point_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
