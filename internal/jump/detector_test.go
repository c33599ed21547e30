package jump

import (
	"math"
	"testing"

	"github.com/chrissnell/rampfit/internal/ramp"
)

// seq builds a single-read-per-resultant sequence with 1 s cadence. NaN
// counts mark invalid resultants.
func seq(counts []float64, readNoise float64) ramp.Sequence {
	timings := ramp.UniformPattern(len(counts), 1, 1.0).Timings()
	return ramp.FromResultants(counts, timings, readNoise)
}

func flaggedIndices(mask []bool) []int {
	var out []int
	for i, f := range mask {
		if f {
			out = append(out, i)
		}
	}
	return out
}

func TestDetectCleanRamp(t *testing.T) {
	d := NewDetector(Config{})
	res := d.Detect(seq([]float64{0, 100, 200, 300, 400}, 5.0))

	if n := len(flaggedIndices(res.Mask)); n != 0 {
		t.Errorf("clean ramp flagged %d jumps, want 0", n)
	}
	if len(res.Segments) != 1 {
		t.Errorf("clean ramp split into %d segments, want 1", len(res.Segments))
	}
	if math.Abs(res.ProvisionalSlope-100) > 1e-9 {
		t.Errorf("provisional slope %.4f, want 100", res.ProvisionalSlope)
	}
}

func TestDetectSingleUpwardJump(t *testing.T) {
	// +1000 counts deposited between resultants 2 and 3, well above any
	// threshold at this rate and noise.
	d := NewDetector(Config{})
	res := d.Detect(seq([]float64{0, 100, 200, 1300, 1400}, 5.0))

	flagged := flaggedIndices(res.Mask)
	if len(flagged) != 1 || flagged[0] != 3 {
		t.Fatalf("flagged %v, want [3]", flagged)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[0] != (Segment{0, 3}) || res.Segments[1] != (Segment{3, 5}) {
		t.Errorf("segments %v, want [{0 3} {3 5}]", res.Segments)
	}
	if res.CapReached {
		t.Error("cap reached on a trivially convergent ramp")
	}
}

func TestDetectDecreasingRampClampsSlope(t *testing.T) {
	// Count rates are nonnegative, so a gently decreasing ramp is tested
	// against zero rate rather than a negative fitted slope. At this noise
	// level the decline is insignificant and nothing is flagged.
	d := NewDetector(Config{})
	res := d.Detect(seq([]float64{100, 99, 98, 97}, 50.0))

	if res.ProvisionalSlope != 0 {
		t.Errorf("provisional slope %.4f, want 0", res.ProvisionalSlope)
	}
	if n := len(flaggedIndices(res.Mask)); n != 0 {
		t.Errorf("flagged %d jumps on a noise-level decline", n)
	}
}

func TestDetectTooFewValidResultants(t *testing.T) {
	tests := []struct {
		name   string
		counts []float64
	}{
		{"empty", nil},
		{"single", []float64{42}},
		{"one valid of three", []float64{math.NaN(), 42, math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(Config{})
			res := d.Detect(seq(tt.counts, 5.0))
			if n := len(flaggedIndices(res.Mask)); n != 0 {
				t.Errorf("flagged %d jumps on an untestable ramp", n)
			}
			if len(res.Segments) < 1 {
				t.Error("segment count fell below 1")
			}
		})
	}
}

func TestDetectStatisticAtThresholdIsNotAJump(t *testing.T) {
	// A perfectly linear noiseless ramp has statistic exactly 0 at every
	// boundary. With a zero threshold, strict inequality must keep it clean.
	d := NewDetector(Config{Threshold: Threshold{Intercept: 1e-300, SlopeCoeff: 0}})
	res := d.Detect(seq([]float64{0, 50, 100, 150}, 0))

	if n := len(flaggedIndices(res.Mask)); n != 0 {
		t.Errorf("flagged %d boundaries with statistic == threshold", n)
	}
}

func TestDetectIterationCap(t *testing.T) {
	// Two well-separated jumps need two scan iterations; a cap of one must
	// stop after the first flag and report it.
	counts := []float64{0, 100, 1200, 1300, 2400, 2500}

	capped := NewDetector(Config{MaxIterations: 1}).Detect(seq(counts, 5.0))
	if !capped.CapReached {
		t.Error("expected cap to be reached with MaxIterations=1")
	}
	if got := len(flaggedIndices(capped.Mask)); got != 1 {
		t.Errorf("capped run flagged %d jumps, want 1", got)
	}

	free := NewDetector(Config{}).Detect(seq(counts, 5.0))
	if free.CapReached {
		t.Error("default cap reached on a 6-resultant ramp")
	}
	if got := flaggedIndices(free.Mask); len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("flagged %v, want [2 4]", got)
	}
	if len(free.Segments) != 3 {
		t.Errorf("got %d segments, want 3", len(free.Segments))
	}
}

func TestDetectSkipsInvalidResultants(t *testing.T) {
	// The jump lands between valid neighbors 2 and 4; the dead resultant 3
	// must not hide it. The flag goes on the later resultant of the pair.
	d := NewDetector(Config{})
	res := d.Detect(seq([]float64{0, 100, 200, math.NaN(), 1400, 1500}, 5.0))

	flagged := flaggedIndices(res.Mask)
	if len(flagged) != 1 || flagged[0] != 4 {
		t.Errorf("flagged %v, want [4]", flagged)
	}
}

func TestSegmentsFrom(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		flags    []int
		expected []Segment
	}{
		{"no flags", 4, nil, []Segment{{0, 4}}},
		{"middle flag", 4, []int{2}, []Segment{{0, 2}, {2, 4}}},
		{"adjacent flags", 5, []int{2, 3}, []Segment{{0, 2}, {2, 3}, {3, 5}}},
		{"flag at end", 3, []int{2}, []Segment{{0, 2}, {2, 3}}},
		{"empty ramp", 0, nil, []Segment{{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := make([]bool, tt.n)
			for _, k := range tt.flags {
				mask[k] = true
			}
			got := segmentsFrom(tt.n, mask)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("segment %d: got %v, want %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}
