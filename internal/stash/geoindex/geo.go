package geoindex

import (
	"math"

	"github.com/example/stashfind/internal/stash/domain"
)

const earthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two WGS84 points in
// kilometers. Latitude/longitude are not a planar coordinate system, so
// Euclidean distance is never used for radius filtering.
func HaversineKM(a, b domain.GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlng := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlng := math.Sin(dlng / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlng*sinDlng
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
