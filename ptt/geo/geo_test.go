package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kasuganosora/walkietalkie/server/apperr"
)

func TestHaversineZero(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(0, 0, 0, 0))
	assert.Equal(t, 0.0, Haversine(40.0, -73.0, 40.0, -73.0))
}

func TestHaversineOneDegree(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	assert.InDelta(t, 111.19, d, 0.5)

	d = Haversine(0, 0, 1, 0)
	assert.InDelta(t, 111.19, d, 0.5)
}

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{40.0, -73.0, 40.009, -73.0},
		{51.5074, -0.1278, 48.8566, 2.3522},
		{-33.8688, 151.2093, 35.6762, 139.6503},
	}
	for _, p := range pairs {
		assert.Equal(t, Haversine(p[0], p[1], p[2], p[3]), Haversine(p[2], p[3], p[0], p[1]))
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// London to Paris.
	assert.InDelta(t, 343.5, Haversine(51.5074, -0.1278, 48.8566, 2.3522), 1.0)
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateCoordinates(0, 0))
	assert.NoError(t, ValidateCoordinates(90, 180))
	assert.NoError(t, ValidateCoordinates(-90, -180))

	for _, c := range [][2]float64{{90.1, 0}, {-90.1, 0}, {0, 180.1}, {0, -181}} {
		err := ValidateCoordinates(c[0], c[1])
		assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument), "%v", c)
	}
}

func TestValidateRadius(t *testing.T) {
	assert.NoError(t, ValidateRadius(0.001, 10))
	assert.NoError(t, ValidateRadius(10, 10))
	assert.NoError(t, ValidateRadius(5, 0))

	for _, r := range []float64{0, -1, 10.0001} {
		err := ValidateRadius(r, 10)
		assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument), "%v", r)
	}
}

func TestBoundaryExactlyAtRadius(t *testing.T) {
	d := Haversine(40.0, -73.0, 40.009, -73.0)
	assert.InDelta(t, 1.0, d, 0.01)

	assert.True(t, Inside(d, d))
	assert.False(t, Outside(d, d))
	assert.True(t, Outside(d+1e-9, d))
	assert.False(t, Inside(d+1e-9, d))
}

func TestBoundingBoxContainsCircle(t *testing.T) {
	minLat, maxLat, minLon, maxLon := BoundingBox(40.0, -73.0, 1.0)
	assert.Less(t, minLat, 40.0)
	assert.Greater(t, maxLat, 40.0)
	assert.Less(t, minLon, -73.0)
	assert.Greater(t, maxLon, -73.0)

	// A point exactly one radius north stays inside the padded box.
	d := Haversine(40.0, -73.0, 40.009, -73.0)
	_, maxLat, _, _ = BoundingBox(40.0, -73.0, d)
	assert.Less(t, 40.009, maxLat)
}

func TestBoundingBoxNearPole(t *testing.T) {
	_, maxLat, minLon, maxLon := BoundingBox(89.999, 0, 5)
	assert.Equal(t, 90.0, maxLat)
	assert.Equal(t, -180.0, minLon)
	assert.Equal(t, 180.0, maxLon)
}
