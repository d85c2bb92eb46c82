package geoindex

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/example/stashfind/internal/stash/domain"
)

// cellSizeDeg is the grid resolution. 0.25 degrees of latitude is roughly
// 28 km, which keeps the candidate scan bounded for city-scale radii without
// fragmenting small datasets across too many cells.
const cellSizeDeg = 0.25

const lngCells = int(360 / cellSizeDeg)

type cellKey struct {
	row int
	col int
}

// snapshot is an immutable view of the index. Writers build a fresh snapshot
// off to the side and publish it with a single pointer store, so readers
// never observe a partially rebuilt structure.
type snapshot struct {
	cells   map[cellKey][]domain.GeoIndexEntry
	entries map[string]domain.GeoIndexEntry
}

// MemoryIndex is the default in-process GeoIndex: grid-cell buckets behind an
// atomically swapped snapshot. Reads are lock-free; the mutex only serializes
// writers.
type MemoryIndex struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	idx := &MemoryIndex{}
	idx.snap.Store(buildSnapshot(nil))
	return idx
}

// Upsert inserts or replaces entries by point id. The whole batch is rejected
// if any entry carries malformed coordinates.
func (m *MemoryIndex) Upsert(_ context.Context, entries []domain.GeoIndexEntry) error {
	for _, e := range entries {
		if err := e.Location.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.snap.Load()
	next := make(map[string]domain.GeoIndexEntry, len(cur.entries)+len(entries))
	for id, e := range cur.entries {
		next[id] = e
	}
	for _, e := range entries {
		next[e.PointID] = e
	}
	m.snap.Store(buildSnapshot(next))
	return nil
}

// RemoveMissing evicts every entry whose id is absent from currentIDs.
func (m *MemoryIndex) RemoveMissing(_ context.Context, currentIDs map[string]struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.snap.Load()
	next := make(map[string]domain.GeoIndexEntry, len(cur.entries))
	for id, e := range cur.entries {
		if _, ok := currentIDs[id]; ok {
			next[id] = e
		}
	}
	m.snap.Store(buildSnapshot(next))
	return nil
}

// Query returns every entry within radiusKM great-circle distance of center.
// An empty index yields an empty result, never an error. The result carries
// no ordering guarantee and no cap; ranking and capping belong to the caller.
func (m *MemoryIndex) Query(_ context.Context, center domain.GeoPoint, radiusKM float64) ([]domain.GeoIndexEntry, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusKM <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	snap := m.snap.Load()
	results := make([]domain.GeoIndexEntry, 0)

	latDelta := radiusKM / earthRadiusKM * 180 / math.Pi
	rowMin := cellRow(math.Max(center.Lat-latDelta, -90))
	rowMax := cellRow(math.Min(center.Lat+latDelta, 90))

	// Longitude degrees shrink toward the poles; size the column span by the
	// band edge closest to a pole so no cell is skipped.
	edgeLat := math.Min(math.Max(math.Abs(center.Lat-latDelta), math.Abs(center.Lat+latDelta)), 90)
	cosEdge := math.Cos(toRadians(edgeLat))

	colMin, colMax := 0, lngCells-1
	wholeBand := true
	if cosEdge > 1e-9 {
		lngDelta := latDelta / cosEdge
		if lngDelta < 180 {
			// Raw (unwrapped) indexes keep colMin <= colMax across the
			// antimeridian; each visited column is normalized below.
			colMin = int(math.Floor((center.Lng - lngDelta) / cellSizeDeg))
			colMax = int(math.Floor((center.Lng + lngDelta) / cellSizeDeg))
			wholeBand = false
		}
	}

	for row := rowMin; row <= rowMax; row++ {
		if wholeBand || colMax-colMin+1 >= lngCells {
			for col := 0; col < lngCells; col++ {
				results = appendWithin(results, snap.cells[cellKey{row, col}], center, radiusKM)
			}
			continue
		}
		for c := colMin; c <= colMax; c++ {
			col := ((c % lngCells) + lngCells) % lngCells
			results = appendWithin(results, snap.cells[cellKey{row, col}], center, radiusKM)
		}
	}
	return results, nil
}

// Len reports the number of indexed points.
func (m *MemoryIndex) Len() int {
	return len(m.snap.Load().entries)
}

func appendWithin(dst []domain.GeoIndexEntry, bucket []domain.GeoIndexEntry, center domain.GeoPoint, radiusKM float64) []domain.GeoIndexEntry {
	for _, e := range bucket {
		if HaversineKM(center, e.Location) <= radiusKM {
			dst = append(dst, e)
		}
	}
	return dst
}

func buildSnapshot(entries map[string]domain.GeoIndexEntry) *snapshot {
	snap := &snapshot{
		cells:   make(map[cellKey][]domain.GeoIndexEntry),
		entries: make(map[string]domain.GeoIndexEntry, len(entries)),
	}
	for id, e := range entries {
		snap.entries[id] = e
		key := cellKey{row: cellRow(e.Location.Lat), col: cellCol(e.Location.Lng)}
		snap.cells[key] = append(snap.cells[key], e)
	}
	return snap
}

func cellRow(lat float64) int {
	return int(math.Floor(lat / cellSizeDeg))
}

func cellCol(lng float64) int {
	col := int(math.Floor(lng / cellSizeDeg))
	return ((col % lngCells) + lngCells) % lngCells
}
