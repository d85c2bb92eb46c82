package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/stashfind/internal/stash/domain"
)

// Postgres reads the authoritative storage-point and booking records over
// database/sql (pgx stdlib driver). The core never writes here; bookings are
// owned by the system of record.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ListStoragePoints returns every storage point.
func (p *Postgres) ListStoragePoints(ctx context.Context) ([]domain.StoragePoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, address, latitude, longitude, capacity,
		       to_char(open_from, 'HH24:MI'), to_char(open_until, 'HH24:MI')
		FROM stashpoints`)
	if err != nil {
		return nil, fmt.Errorf("select stashpoints: %w", err)
	}
	defer rows.Close()

	var points []domain.StoragePoint
	for rows.Next() {
		var sp domain.StoragePoint
		var openFrom, openUntil string
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Address, &sp.Location.Lat, &sp.Location.Lng, &sp.Capacity, &openFrom, &openUntil); err != nil {
			return nil, fmt.Errorf("scan stashpoint: %w", err)
		}
		if sp.OpenFrom, err = domain.ParseDayTime(openFrom); err != nil {
			return nil, fmt.Errorf("stashpoint %s open_from: %w", sp.ID, err)
		}
		if sp.OpenUntil, err = domain.ParseDayTime(openUntil); err != nil {
			return nil, fmt.Errorf("stashpoint %s open_until: %w", sp.ID, err)
		}
		points = append(points, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stashpoints: %w", err)
	}
	return points, nil
}

// GetCapacityProfile returns the non-cancelled bookings of one point that
// overlap the half-open window [windowStart, windowEnd).
func (p *Postgres) GetCapacityProfile(ctx context.Context, pointID string, windowStart, windowEnd time.Time) (domain.CapacityProfile, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dropoff_time, pickup_time, bag_count
		FROM bookings
		WHERE stashpoint_id = $1
		  AND NOT is_cancelled
		  AND dropoff_time < $3
		  AND pickup_time > $2`,
		pointID, windowStart, windowEnd)
	if err != nil {
		return domain.CapacityProfile{}, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	profile := domain.CapacityProfile{PointID: pointID}
	for rows.Next() {
		var iv domain.BookedInterval
		var id string
		if err := rows.Scan(&id, &iv.Start, &iv.End, &iv.Bags); err != nil {
			return domain.CapacityProfile{}, fmt.Errorf("scan booking: %w", err)
		}
		if parsed, err := uuid.Parse(id); err == nil {
			iv.ID = parsed
		}
		profile.Intervals = append(profile.Intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return domain.CapacityProfile{}, fmt.Errorf("iterate bookings: %w", err)
	}
	return profile, nil
}
