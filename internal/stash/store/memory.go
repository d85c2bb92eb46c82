package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/stashfind/internal/stash/domain"
)

// Memory is an in-memory capacity store for tests and local demos.
type Memory struct {
	mu       sync.RWMutex
	points   map[string]domain.StoragePoint
	bookings map[string][]domain.BookedInterval
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{
		points:   make(map[string]domain.StoragePoint),
		bookings: make(map[string][]domain.BookedInterval),
	}
}

// PutPoint inserts or replaces a storage point.
func (m *Memory) PutPoint(sp domain.StoragePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[sp.ID] = sp
}

// DeletePoint removes a storage point and its bookings.
func (m *Memory) DeletePoint(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	delete(m.bookings, id)
}

// AddBooking records a booked interval against a point.
func (m *Memory) AddBooking(pointID string, iv domain.BookedInterval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[pointID] = append(m.bookings[pointID], iv)
}

// ListStoragePoints returns all points.
func (m *Memory) ListStoragePoints(_ context.Context) ([]domain.StoragePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := make([]domain.StoragePoint, 0, len(m.points))
	for _, sp := range m.points {
		points = append(points, sp)
	}
	return points, nil
}

// GetCapacityProfile returns the point's intervals overlapping the window.
func (m *Memory) GetCapacityProfile(_ context.Context, pointID string, windowStart, windowEnd time.Time) (domain.CapacityProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile := domain.CapacityProfile{PointID: pointID}
	for _, iv := range m.bookings[pointID] {
		if iv.Overlaps(windowStart, windowEnd) {
			profile.Intervals = append(profile.Intervals, iv)
		}
	}
	return profile, nil
}
