// Package units converts simulation quantities for display.
package units

import "math"

func MetersPerSecondToKilometersPerHour(v float64) float64 {
	return v * 3.6
}

func MetersPerSecondToMilesPerHour(v float64) float64 {
	return v * 2.2369363
}

func RadiansToDegrees(r float64) float64 {
	return r * 180 / math.Pi
}

func DegreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}

// NormaliseRadians wraps an angle into (-pi, pi].
func NormaliseRadians(r float64) float64 {
	r = math.Mod(r, 2*math.Pi)

	switch {
	case r <= -math.Pi:
		r += 2 * math.Pi
	case r > math.Pi:
		r -= 2 * math.Pi
	}

	return r
}
