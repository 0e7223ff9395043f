// Package geo holds the great-circle math and range checks behind location
// channels.
package geo

import (
	"math"
	"strconv"

	"github.com/kasuganosora/walkietalkie/server/apperr"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// DefaultMaxRadiusKm bounds the radius of a location channel.
const DefaultMaxRadiusKm = 10.0

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Haversine returns the great-circle distance in kilometers between two
// points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLon*sinLon
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ValidateCoordinates rejects latitudes outside [-90, 90] and longitudes
// outside [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return apperr.InvalidArgument("invalid coordinates")
	}
	if lat < -90 || lat > 90 {
		return apperr.InvalidArgument("latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return apperr.InvalidArgument("longitude must be between -180 and 180")
	}
	return nil
}

// ValidateRadius requires 0 < radiusKm <= maxKm. A non-positive maxKm falls
// back to DefaultMaxRadiusKm.
func ValidateRadius(radiusKm, maxKm float64) error {
	if maxKm <= 0 {
		maxKm = DefaultMaxRadiusKm
	}
	if math.IsNaN(radiusKm) || radiusKm <= 0 || radiusKm > maxKm {
		return apperr.InvalidArgument("radius must be greater than 0 and at most " + formatKm(maxKm) + " km")
	}
	return nil
}

// Inside is the nearby-inclusion test.
func Inside(distanceKm, radiusKm float64) bool {
	return distanceKm <= radiusKm
}

// Outside is the auto-leave test. It is the exact complement of Inside.
func Outside(distanceKm, radiusKm float64) bool {
	return distanceKm > radiusKm
}

// BoundingBox returns the lat/lon rectangle enclosing a circle of radiusKm
// around (lat, lon), padded by one percent so points exactly on the circle
// survive float rounding. It is only a prefilter; callers confirm with Haversine.
func BoundingBox(lat, lon, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKm * 1.01 / EarthRadiusKm * 180 / math.Pi
	minLat, maxLat = lat-dLat, lat+dLat
	cosLat := math.Cos(toRadians(lat))
	if cosLat < 1e-6 || maxLat >= 90 || minLat <= -90 {
		return math.Max(minLat, -90), math.Min(maxLat, 90), -180, 180
	}
	dLon := dLat / cosLat
	minLon, maxLon = lon-dLon, lon+dLon
	if minLon < -180 || maxLon > 180 {
		// Crosses the antimeridian; widen rather than split the query.
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLon, maxLon
}

func formatKm(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
