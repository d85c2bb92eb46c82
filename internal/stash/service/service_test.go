package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/stashfind/internal/stash/domain"
	"github.com/example/stashfind/internal/stash/geoindex"
	"github.com/example/stashfind/internal/stash/service"
	"github.com/example/stashfind/internal/stash/store"
)

type failingIndex struct{}

func (failingIndex) Upsert(context.Context, []domain.GeoIndexEntry) error          { return nil }
func (failingIndex) RemoveMissing(context.Context, map[string]struct{}) error      { return nil }
func (failingIndex) Query(context.Context, domain.GeoPoint, float64) ([]domain.GeoIndexEntry, error) {
	return nil, errors.New("redis geosearch: connection refused")
}

// blockingSource stalls lookups for selected points until the caller's
// timeout fires.
type blockingSource struct {
	inner domain.ProfileSource
	stall map[string]bool
}

func (b *blockingSource) Profile(ctx context.Context, pointID string, start, end time.Time) (domain.CapacityProfile, error) {
	if b.stall[pointID] {
		<-ctx.Done()
		return domain.CapacityProfile{}, ctx.Err()
	}
	return b.inner.Profile(ctx, pointID, start, end)
}

func dayHour(hour int) time.Time {
	return time.Date(2024, 6, 1, hour, 0, 0, 0, time.UTC)
}

func openHours(t *testing.T, from, until string) (domain.DayTime, domain.DayTime) {
	t.Helper()
	f, err := domain.ParseDayTime(from)
	require.NoError(t, err)
	u, err := domain.ParseDayTime(until)
	require.NoError(t, err)
	return f, u
}

func newFixture(t *testing.T) (*store.Memory, *geoindex.MemoryIndex, *service.Service) {
	t.Helper()
	mem := store.NewMemory()
	idx := geoindex.NewMemoryIndex()
	svc := service.New(idx, store.NewStoreProfileSource(mem), nil, nil, nil, service.Config{})
	return mem, idx, svc
}

func addPoint(t *testing.T, mem *store.Memory, idx *geoindex.MemoryIndex, sp domain.StoragePoint) {
	t.Helper()
	mem.PutPoint(sp)
	require.NoError(t, idx.Upsert(context.Background(), []domain.GeoIndexEntry{domain.EntryFromStoragePoint(sp)}))
}

func centralLondonPoint(t *testing.T, id string) domain.StoragePoint {
	from, until := openHours(t, "08:00", "22:00")
	return domain.StoragePoint{
		ID:        id,
		Name:      "Central Storage",
		Address:   "1 Strand, London",
		Location:  domain.GeoPoint{Lat: 51.5107, Lng: -0.1246},
		Capacity:  20,
		OpenFrom:  from,
		OpenUntil: until,
	}
}

func TestSearchIncludesPointWithEnoughCapacity(t *testing.T) {
	mem, idx, svc := newFixture(t)
	addPoint(t, mem, idx, centralLondonPoint(t, "abc123"))
	mem.AddBooking("abc123", domain.BookedInterval{ID: uuid.New(), Start: dayHour(9), End: dayHour(11), Bags: 5})

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 2,
		RadiusKM: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	require.Equal(t, "abc123", got.PointID)
	require.Equal(t, 20, got.Capacity)
	// The booking overlaps 10:00-11:00 with peak 5, so 15 slots remain.
	require.Equal(t, 15, got.AvailableCapacity)
	require.InDelta(t, 2.1, got.DistanceKM, 0.3)
	require.Equal(t, "08:00", got.OpenFrom.String())
}

func TestSearchExcludesPointWithTooFewSlots(t *testing.T) {
	mem, idx, svc := newFixture(t)
	addPoint(t, mem, idx, centralLondonPoint(t, "abc123"))
	mem.AddBooking("abc123", domain.BookedInterval{ID: uuid.New(), Start: dayHour(9), End: dayHour(11), Bags: 5})

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 17,
		RadiusKM: 10,
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchTinyRadiusYieldsEmptyResult(t *testing.T) {
	mem, idx, svc := newFixture(t)
	addPoint(t, mem, idx, centralLondonPoint(t, "abc123"))

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.38, Lng: -0.1}, // ~15 km south
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 1,
		RadiusKM: 0.1,
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchRejectsEmptyWindow(t *testing.T) {
	_, _, svc := newFixture(t)
	_, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(10),
		BagCount: 1,
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSearchExcludesClosedPoints(t *testing.T) {
	mem, idx, svc := newFixture(t)
	addPoint(t, mem, idx, centralLondonPoint(t, "abc123"))

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(21),
		Pickup:   dayHour(23), // past 22:00 closing
		BagCount: 1,
		RadiusKM: 10,
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchOrdersByDistanceThenID(t *testing.T) {
	mem, idx, svc := newFixture(t)
	from, until := openHours(t, "00:00", "23:59")

	near := domain.StoragePoint{ID: "near", Location: domain.GeoPoint{Lat: 51.502, Lng: -0.1}, Capacity: 10, OpenFrom: from, OpenUntil: until}
	far := domain.StoragePoint{ID: "far", Location: domain.GeoPoint{Lat: 51.54, Lng: -0.1}, Capacity: 10, OpenFrom: from, OpenUntil: until}
	// Same coordinates as near: identical distance, id breaks the tie.
	alsoNear := domain.StoragePoint{ID: "also-near", Location: domain.GeoPoint{Lat: 51.502, Lng: -0.1}, Capacity: 10, OpenFrom: from, OpenUntil: until}
	for _, sp := range []domain.StoragePoint{near, far, alsoNear} {
		addPoint(t, mem, idx, sp)
	}

	req := domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 1,
		RadiusKM: 10,
	}

	first, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Equal(t, "also-near", first[0].PointID)
	require.Equal(t, "near", first[1].PointID)
	require.Equal(t, "far", first[2].PointID)

	second, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSearchDropsCandidateOnLookupTimeout(t *testing.T) {
	mem := store.NewMemory()
	idx := geoindex.NewMemoryIndex()
	from, until := openHours(t, "00:00", "23:59")
	slow := domain.StoragePoint{ID: "slow", Location: domain.GeoPoint{Lat: 51.51, Lng: -0.1}, Capacity: 10, OpenFrom: from, OpenUntil: until}
	fast := domain.StoragePoint{ID: "fast", Location: domain.GeoPoint{Lat: 51.52, Lng: -0.1}, Capacity: 10, OpenFrom: from, OpenUntil: until}
	for _, sp := range []domain.StoragePoint{slow, fast} {
		addPoint(t, mem, idx, sp)
	}

	source := &blockingSource{inner: store.NewStoreProfileSource(mem), stall: map[string]bool{"slow": true}}
	svc := service.New(idx, source, nil, nil, nil, service.Config{LookupTimeout: 20 * time.Millisecond})

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 1,
		RadiusKM: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "fast", results[0].PointID)
}

func TestSearchFailsWhenGeoIndexUnavailable(t *testing.T) {
	svc := service.New(failingIndex{}, store.NewStoreProfileSource(store.NewMemory()), nil, nil, nil, service.Config{})
	_, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 1,
	})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSearchClampsOverbookedPointAndExcludesIt(t *testing.T) {
	mem, idx, svc := newFixture(t)
	sp := centralLondonPoint(t, "abc123")
	sp.Capacity = 3
	addPoint(t, mem, idx, sp)
	mem.AddBooking("abc123", domain.BookedInterval{ID: uuid.New(), Start: dayHour(9), End: dayHour(13), Bags: 5})

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Location: domain.GeoPoint{Lat: 51.5, Lng: -0.1},
		Dropoff:  dayHour(10),
		Pickup:   dayHour(12),
		BagCount: 1,
		RadiusKM: 10,
	})
	// Never a request failure, never negative availability.
	require.NoError(t, err)
	require.Empty(t, results)
}
