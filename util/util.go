// Package util contains misc internal utilities.
package util

// Limiter is a closed interval [Min, Max] on a single axis
type Limiter struct {
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if Min <= x <= Max
func (l Limiter) Check(x float64) bool {
	return x >= l.Min && x <= l.Max
}

// Valid returns true if the interval is non-empty
func (l Limiter) Valid() bool {
	return l.Min <= l.Max
}

// Clamp limits x to low <= x <= high
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}
