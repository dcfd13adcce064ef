package offline

import (
	"fmt"
	"math"
)

// RoundCoordinate rounds half away from zero at two decimals, about 1.1 km of latitude.
// Negative zero is normalised so -0.001 and 0.001 share a key.
func RoundCoordinate(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

// CacheID returns the storage key for a coordinate pair. Coordinates that round to the
// same two decimals collide on purpose: nearby lookups share one snapshot.
func CacheID(lat, lon float64) string {
	return fmt.Sprintf("weather_%.2f_%.2f", RoundCoordinate(lat), RoundCoordinate(lon))
}
