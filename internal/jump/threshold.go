// Package jump detects cosmic-ray discontinuities in a pixel's resultant
// sequence and partitions the ramp into uncontaminated segments.
package jump

import "math"

// Rate clamp for the threshold evaluation. Outside this range the shot-noise
// model that motivates the rate dependence is no longer informative.
const (
	minThresholdRate = 1.0
	maxThresholdRate = 1e4
)

// Threshold maps an estimated count rate to the minimum normalized
// difference statistic that counts as a jump:
//
//	Threshold(s) = Intercept - SlopeCoeff * log10(s)
//
// with s clamped to [1, 1e4]. The default constants follow the published
// calibration of the two-point difference method.
type Threshold struct {
	Intercept  float64
	SlopeCoeff float64
}

// DefaultThreshold returns the published threshold constants.
func DefaultThreshold() Threshold {
	return Threshold{Intercept: 5.5, SlopeCoeff: 1.0 / 3.0}
}

// At evaluates the threshold at the given count rate.
func (t Threshold) At(rate float64) float64 {
	if rate < minThresholdRate {
		rate = minThresholdRate
	} else if rate > maxThresholdRate {
		rate = maxThresholdRate
	}
	return t.Intercept - t.SlopeCoeff*math.Log10(rate)
}
