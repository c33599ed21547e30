package pixel

import (
	"math"

	"github.com/chrissnell/rampfit/internal/fit"
	"github.com/chrissnell/rampfit/internal/jump"
	"github.com/chrissnell/rampfit/internal/ramp"
)

// Config bundles the per-pixel pipeline knobs.
type Config struct {
	Jump jump.Config
	Fit  fit.Config
}

// Result is the terminal per-pixel output: the combined rate and variance,
// the jump mask, the per-segment fits that fed the combination, and the
// quality bitmask. Slope and Variance are NaN when Valid is false.
type Result struct {
	Slope    float64
	Variance float64
	Valid    bool
	Quality  Quality
	Jumps    []bool
	Segments []fit.SegmentFit
	State    State
	// JumpIterations and JumpCapReached feed exposure-level diagnostics.
	JumpIterations int
	JumpCapReached bool
}

// Pipeline is a stateless per-pixel processor; one instance is shared by all
// workers of an exposure.
type Pipeline struct {
	detector *jump.Detector
	fitCfg   fit.Config
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		detector: jump.NewDetector(cfg.Jump),
		fitCfg:   cfg.Fit,
	}
}

// Process runs one pixel's ramp to completion. It never fails: every error
// condition ends in an invalid result with the reason encoded in Quality.
func (p *Pipeline) Process(seq ramp.Sequence) Result {
	res := Result{State: StateUnprocessed}

	nValid := seq.NValid()
	if nValid < seq.Len() {
		res.Quality |= QualitySaturated
	}
	if nValid < 2 {
		res.Quality |= QualityTooShort
		if nValid == 0 {
			// Nothing survived at all; report it the way a pixel whose
			// every segment failed would be reported.
			res.Quality |= QualityAllInvalid
		}
		return invalidate(res, seq.Len())
	}

	res.State = StateJumpScan
	scan := p.detector.Detect(seq)
	res.Jumps = scan.Mask
	res.JumpIterations = scan.Iterations
	res.JumpCapReached = scan.CapReached
	for _, flagged := range scan.Mask {
		if flagged {
			res.Quality |= QualityJumpDetected
			break
		}
	}

	res.State = StateSegmented
	res.Segments = make([]fit.SegmentFit, 0, len(scan.Segments))
	for _, seg := range scan.Segments {
		sf := fit.Segment(seq, seg, p.fitCfg)
		if sf.Reason == fit.ReasonDegenerateTiming {
			res.Quality |= QualityDegenerateTiming
		}
		res.Segments = append(res.Segments, sf)
	}

	res.State = StateFitted
	slope, variance, ok := Combine(res.Segments)
	if !ok {
		res.Quality |= QualityAllInvalid
		return invalidate(res, seq.Len())
	}

	res.Slope = slope
	res.Variance = variance
	res.Valid = true
	res.State = StateCombined
	return res
}

// Combine merges segment fits by inverse-variance weighting, the
// minimum-variance unbiased combination for time-disjoint segments. Order
// of the fits does not matter. Returns ok=false when no fit is valid.
func Combine(fits []fit.SegmentFit) (slope, variance float64, ok bool) {
	var sum, weight float64
	for _, f := range fits {
		if !f.Valid {
			continue
		}
		w := 1 / f.Variance
		sum += w * f.Slope
		weight += w
	}
	if weight == 0 {
		return math.NaN(), math.NaN(), false
	}
	return sum / weight, 1 / weight, true
}

func invalidate(res Result, n int) Result {
	res.Slope = math.NaN()
	res.Variance = math.NaN()
	res.Valid = false
	res.State = StateInvalid
	if res.Jumps == nil {
		res.Jumps = make([]bool, n)
	}
	return res
}
