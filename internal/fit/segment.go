// Package fit performs the optimally weighted least-squares slope fit on a
// single uncontaminated ramp segment, with the variance split into read-noise
// and shot-noise parts.
package fit

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/rampfit/internal/jump"
	"github.com/chrissnell/rampfit/internal/ramp"
)

// DefaultVarianceFloor is the minimum total variance a fit may report.
// Flooring keeps downstream inverse-variance weighting finite.
const DefaultVarianceFloor = 1e-10

// InvalidReason says why a segment produced no usable slope.
type InvalidReason int

const (
	ReasonNone InvalidReason = iota
	// ReasonTooFew: fewer than 2 valid resultants in the segment.
	ReasonTooFew
	// ReasonDegenerateTiming: the segment's resultants share a timestamp,
	// so the regression is ill-posed.
	ReasonDegenerateTiming
)

// Config controls the per-segment fit.
type Config struct {
	// WithIntercept selects the two-parameter (rate + zero point) model.
	// When false the rate-only model is used, anchored at the segment's
	// first valid resultant.
	WithIntercept bool
	// VarianceFloor replaces a non-positive total variance. Zero means
	// DefaultVarianceFloor.
	VarianceFloor float64
}

// SegmentFit is the slope estimate for one segment. VarRead and VarPoisson
// are the read-noise and shot-noise parts of Variance; Variance is their
// floored sum. Produced once, never mutated.
type SegmentFit struct {
	Start, End int // resultant index range, half-open
	Slope      float64
	Intercept  float64
	VarRead    float64
	VarPoisson float64
	Variance   float64
	NValid     int
	Valid      bool
	Reason     InvalidReason
}

// Segment fits one segment of seq.
//
// The ideal weights depend on the unknown slope, so the fit is a single
// pass: an unweighted provisional slope fixes the signal-to-noise regime,
// that picks the power-law weighting exponent, and one weighted
// least-squares pass produces the final slope. This intentionally trades a
// small bias for never iterating.
func Segment(seq ramp.Sequence, seg jump.Segment, cfg Config) SegmentFit {
	floor := cfg.VarianceFloor
	if floor <= 0 {
		floor = DefaultVarianceFloor
	}

	out := SegmentFit{Start: seg.Start, End: seg.End}
	var pts []ramp.Resultant
	for k := seg.Start; k < seg.End && k < seq.Len(); k++ {
		if seq.Resultants[k].Valid {
			pts = append(pts, seq.Resultants[k])
		}
	}
	out.NValid = len(pts)
	if len(pts) < 2 {
		out.Reason = ReasonTooFew
		return out
	}

	tFirst := pts[0].TBar
	tLast := pts[len(pts)-1].TBar
	span := tLast - tFirst
	if span <= 0 {
		out.Reason = ReasonDegenerateTiming
		return out
	}

	// Provisional slope from an unweighted fit; it only needs to land in
	// the right signal-to-noise decade.
	ts := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		ts[i] = p.TBar
		ys[i] = p.Counts
	}
	_, provisional := stat.LinearRegression(ts, ys, nil, false)
	if math.IsNaN(provisional) {
		out.Reason = ReasonDegenerateTiming
		return out
	}
	if provisional < 0 {
		provisional = 0
	}

	power := signalPower(snr(provisional, span, seq.ReadNoise))
	weights := casertanoWeights(pts, power, tFirst, tLast)

	coeffs, slope, intercept, ok := weightedSlope(pts, weights, cfg.WithIntercept)
	if !ok {
		out.Reason = ReasonDegenerateTiming
		return out
	}

	out.Slope = slope
	out.Intercept = intercept
	out.VarRead, out.VarPoisson = varianceParts(pts, coeffs, slope)
	out.Variance = out.VarRead + out.VarPoisson
	if out.Variance < floor {
		out.Variance = floor
	}
	out.Valid = true
	return out
}

// snr is the expected total accumulated signal over the segment, in units
// of its combined noise.
func snr(slope, span, readNoise float64) float64 {
	signal := slope * span
	return signal / math.Sqrt(readNoise*readNoise+signal)
}

// signalPower returns the weighting exponent for a signal-to-noise ratio,
// per the published calibration: read-noise-dominated segments get flat
// weights, bright segments push weight to the ramp ends.
func signalPower(snr float64) float64 {
	switch {
	case snr < 5:
		return 0
	case snr < 10:
		return 0.4
	case snr < 20:
		return 1
	case snr < 50:
		return 3
	case snr < 100:
		return 6
	default:
		return 10
	}
}

// casertanoWeights computes w_i = [(1+P)N_i / (1+P N_i)] * |t'_i|^P where
// t'_i is the resultant time scaled to [-1, 1] across the segment.
func casertanoWeights(pts []ramp.Resultant, power, tFirst, tLast float64) []float64 {
	tMid := (tFirst + tLast) / 2
	tScale := (tLast - tFirst) / 2
	w := make([]float64, len(pts))
	for i, p := range pts {
		n := float64(p.NReads)
		w[i] = (1 + power) * n / (1 + power*n)
		if power > 0 {
			w[i] *= math.Pow(math.Abs((p.TBar-tMid)/tScale), power)
		}
	}
	return w
}

// weightedSlope solves the closed-form weighted least squares and returns
// the estimator coefficients c_i with slope = sum c_i y_i, which downstream
// variance propagation reuses.
func weightedSlope(pts []ramp.Resultant, w []float64, withIntercept bool) (coeffs []float64, slope, intercept float64, ok bool) {
	coeffs = make([]float64, len(pts))

	if !withIntercept {
		// Rate-only model anchored at the first valid resultant.
		t0 := pts[0].TBar
		y0 := pts[0].Counts
		var denom float64
		for i, p := range pts {
			dt := p.TBar - t0
			denom += w[i] * dt * dt
		}
		if denom <= 0 {
			return nil, 0, 0, false
		}
		for i, p := range pts {
			coeffs[i] = w[i] * (p.TBar - t0) / denom
		}
		// The anchor is measured data, not a constant: give it the balancing
		// coefficient so slope = sum c_i y_i holds exactly and the variance
		// propagation sees the noise on y0 too.
		for _, c := range coeffs[1:] {
			coeffs[0] -= c
		}
		for i, p := range pts {
			slope += coeffs[i] * p.Counts
		}
		return coeffs, slope, y0, true
	}

	var f0, f1, f2 float64
	for i, p := range pts {
		f0 += w[i]
		f1 += w[i] * p.TBar
		f2 += w[i] * p.TBar * p.TBar
	}
	denom := f0*f2 - f1*f1
	if denom <= 0 {
		return nil, 0, 0, false
	}
	var sy, sty float64
	for i, p := range pts {
		coeffs[i] = w[i] * (f0*p.TBar - f1) / denom
		slope += coeffs[i] * p.Counts
		sy += w[i] * p.Counts
		sty += w[i] * p.TBar * p.Counts
	}
	intercept = (f2*sy - f1*sty) / denom
	return coeffs, slope, intercept, true
}

// varianceParts propagates the estimator coefficients through the noise
// model. Read noise is independent between resultants; the shot-noise part
// uses Tau on the diagonal and the earlier TBar off-diagonal, because
// accumulated Poisson fluctuations are shared by every later resultant.
func varianceParts(pts []ramp.Resultant, coeffs []float64, slope float64) (varRead, varPoisson float64) {
	for i, p := range pts {
		varRead += coeffs[i] * coeffs[i] * p.ReadVar
		varPoisson += coeffs[i] * coeffs[i] * p.Tau
		for j := i + 1; j < len(pts); j++ {
			varPoisson += 2 * coeffs[i] * coeffs[j] * p.TBar
		}
	}
	rate := slope
	if rate < 0 {
		rate = 0
	}
	varPoisson *= rate
	if varPoisson < 0 {
		varPoisson = 0
	}
	return varRead, varPoisson
}
