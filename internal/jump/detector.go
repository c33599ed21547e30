package jump

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/rampfit/internal/ramp"
)

// varianceEps keeps the difference statistic finite when a pair's propagated
// variance underflows.
const varianceEps = 1e-12

// Config controls jump detection for one exposure.
type Config struct {
	Threshold Threshold
	// MaxIterations caps the flag-then-rescan fixed point. Zero means one
	// iteration per resultant, which bounds the worst case since each
	// iteration must add at least one flag to continue.
	MaxIterations int
	// MinSegment is the minimum number of valid resultants a split may leave
	// on either side of a new jump flag. Minimum and default is 1.
	MinSegment int
}

// Segment is a half-open range [Start, End) of resultant indices containing
// no internal jump.
type Segment struct {
	Start, End int
}

// Result is the outcome of scanning one ramp. Mask marks the resultant
// indices that begin a discontinuity.
type Result struct {
	Mask             []bool
	Segments         []Segment
	ProvisionalSlope float64
	Iterations       int
	CapReached       bool
}

// Detector scans resultant sequences for statistical discontinuities using
// the two-point difference statistic, with a double-difference variant that
// catches jumps landing inside an averaged resultant.
type Detector struct {
	cfg Config
}

// NewDetector returns a detector with the given configuration. A zero-valued
// threshold falls back to the published defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.Threshold == (Threshold{}) {
		cfg.Threshold = DefaultThreshold()
	}
	if cfg.MinSegment < 1 {
		cfg.MinSegment = 1
	}
	return &Detector{cfg: cfg}
}

// Detect scans seq and returns the jump mask and the implied segments.
// Ramps with fewer than 2 valid resultants cannot be tested and pass
// through unflagged. The scan iterates to a fixed point: flag, recompute the
// provisional slope excluding flagged boundaries, rescan. Flags only
// accumulate, so the loop terminates; MaxIterations bounds it regardless.
func (d *Detector) Detect(seq ramp.Sequence) Result {
	n := seq.Len()
	mask := make([]bool, n)

	if seq.NValid() < 2 {
		return Result{Mask: mask, Segments: segmentsFrom(n, mask)}
	}

	maxIter := d.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = n
	}

	res := Result{Mask: mask}
	for iter := 1; ; iter++ {
		res.Iterations = iter
		res.ProvisionalSlope = provisionalSlope(seq, mask)
		if !d.scan(seq, mask, res.ProvisionalSlope) {
			break
		}
		if iter >= maxIter {
			res.CapReached = true
			break
		}
	}
	res.Segments = segmentsFrom(n, mask)
	return res
}

// scan examines every current segment and flags the worst above-threshold
// boundary in each. Each segment is tested against its own provisional
// slope so that a not-yet-split segment elsewhere in the ramp cannot drag
// the estimate away from a clean segment's true rate; pooled is the
// ramp-level fallback for segments too degenerate to fit. Returns true if
// any new flag was set.
func (d *Detector) scan(seq ramp.Sequence, mask []bool, pooled float64) bool {
	flagged := false

	for _, seg := range segmentsFrom(seq.Len(), mask) {
		valid := validIndices(seq, seg)
		if len(valid) < 2 {
			continue
		}
		slope, ok := segmentSlope(seq, valid)
		if !ok {
			slope = pooled
		}
		threshold := d.cfg.Threshold.At(slope)

		bestIdx, bestStat := -1, math.Inf(-1)
		for a := 0; a+1 < len(valid); a++ {
			// The suspect boundary is the later resultant of the pair:
			// it starts the discontinuity.
			boundary := valid[a+1]
			left := a + 1
			right := len(valid) - left
			if left < d.cfg.MinSegment || right < d.cfg.MinSegment {
				continue
			}

			// The statistic is compared in absolute value: a resultant
			// inconsistent with the trend in either direction breaks the
			// segment, and the later rescan decides whether the far side
			// rejoins the ramp's rate.
			s := math.Abs(d.statistic(seq, valid[a], valid[a+1], slope))
			if a+2 < len(valid) {
				// A jump inside resultant a+1 dilutes the single
				// difference; the straddling double difference keeps
				// its significance.
				if s2 := math.Abs(d.statistic(seq, valid[a], valid[a+2], slope)); s2 > s {
					s = s2
				}
			}
			if s > bestStat {
				bestStat = s
				bestIdx = boundary
			}
		}

		// Strict inequality: a statistic exactly at threshold is not a jump.
		if bestIdx >= 0 && bestStat > threshold {
			mask[bestIdx] = true
			flagged = true
		}
	}
	return flagged
}

// statistic is the normalized slope difference between resultants i < j:
// the local two-point slope minus the provisional slope, over the propagated
// standard deviation from both resultants' read noise plus shot noise at the
// provisional rate.
func (d *Detector) statistic(seq ramp.Sequence, i, j int, slope float64) float64 {
	ri := seq.Resultants[i]
	rj := seq.Resultants[j]
	dt := rj.TBar - ri.TBar
	if dt <= 0 {
		return 0
	}

	local := (rj.Counts - ri.Counts) / dt
	readVar := ri.ReadVar + rj.ReadVar
	poissonVar := slope * (ri.Tau + rj.Tau - 2*ri.TBar)
	if poissonVar < 0 {
		poissonVar = 0
	}
	v := (readVar + poissonVar) / (dt * dt)
	if v < varianceEps {
		v = varianceEps
	}
	return (local - slope) / math.Sqrt(v)
}

// provisionalSlope estimates the ramp's rate from the currently unflagged
// resultants. Each segment gets its own ordinary least-squares fit so that
// the count offsets introduced by already-flagged jumps cannot bias the
// estimate; the per-segment slopes are combined weighted by point count.
func provisionalSlope(seq ramp.Sequence, mask []bool) float64 {
	var sum, weight float64
	for _, seg := range segmentsFrom(seq.Len(), mask) {
		valid := validIndices(seq, seg)
		if len(valid) < 2 {
			continue
		}
		beta, ok := segmentSlope(seq, valid)
		if !ok {
			continue
		}
		w := float64(len(valid))
		sum += beta * w
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// segmentSlope is the unweighted least-squares slope over the given valid
// resultant indices, clamped to the physical rate range. A decreasing ramp
// is tested against zero rate, the same clamp the segment fit applies to
// its provisional slope.
func segmentSlope(seq ramp.Sequence, valid []int) (float64, bool) {
	ts := make([]float64, len(valid))
	ys := make([]float64, len(valid))
	for k, idx := range valid {
		ts[k] = seq.Resultants[idx].TBar
		ys[k] = seq.Resultants[idx].Counts
	}
	_, beta := stat.LinearRegression(ts, ys, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, false
	}
	if beta < 0 {
		beta = 0
	}
	return beta, true
}

// segmentsFrom splits [0, n) at the flagged indices. A flag at index k means
// k starts a new segment. The result always has at least one segment.
func segmentsFrom(n int, mask []bool) []Segment {
	if n == 0 {
		return []Segment{{0, 0}}
	}
	segments := []Segment{}
	start := 0
	for k := 1; k < n; k++ {
		if mask[k] {
			segments = append(segments, Segment{start, k})
			start = k
		}
	}
	return append(segments, Segment{start, n})
}

func validIndices(seq ramp.Sequence, seg Segment) []int {
	var out []int
	for k := seg.Start; k < seg.End; k++ {
		if seq.Resultants[k].Valid {
			out = append(out, k)
		}
	}
	return out
}
