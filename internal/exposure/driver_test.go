package exposure

import (
	"math"
	"testing"

	"github.com/chrissnell/rampfit/internal/fit"
	"github.com/chrissnell/rampfit/internal/pixel"
	"github.com/chrissnell/rampfit/internal/ramp"
)

func testConfig(workers int) Config {
	return Config{
		Pixel:   pixel.Config{Fit: fit.Config{WithIntercept: true}},
		Workers: workers,
	}
}

// linearCube fills every pixel with a noiseless ramp at the given rate.
func linearCube(nResultants, rows, cols int, pattern ramp.Pattern, rate float64) *Cube {
	cube := NewCube(nResultants, rows, cols)
	timings := pattern.Timings()
	for r := 0; r < nResultants; r++ {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				cube.Set(r, y, x, rate*timings[r].TBar)
			}
		}
	}
	return cube
}

func TestFitNoiselessFrame(t *testing.T) {
	pattern := ramp.UniformPattern(8, 1, 3.04)
	cube := linearCube(8, 4, 5, pattern, 12.5)

	product, err := Fit(cube, UniformNoise(10), pattern, testConfig(1))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if product.Stats.Pixels != 20 || product.Stats.Fitted != 20 {
		t.Errorf("stats %+v, want 20 pixels all fitted", product.Stats)
	}
	if product.Stats.JumpsFlagged != 0 {
		t.Errorf("%d jumps flagged on a noiseless frame", product.Stats.JumpsFlagged)
	}
	if got := product.MeanRate(); math.Abs(got-12.5) > 1e-9 {
		t.Errorf("mean rate %.6f, want 12.5", got)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			if got := product.RateAt(y, x); math.Abs(got-12.5) > 1e-9 {
				t.Fatalf("pixel (%d,%d): rate %.6f, want 12.5", y, x, got)
			}
			if q := product.QualityAt(y, x); q != 0 {
				t.Fatalf("pixel (%d,%d): quality %d, want 0", y, x, q)
			}
		}
	}
}

func TestFitParallelMatchesSerial(t *testing.T) {
	pattern := ramp.UniformPattern(6, 1, 2.0)
	rows, cols := 37, 23 // deliberately not multiples of the block size
	cube := linearCube(6, rows, cols, pattern, 40)

	// Give the frame some structure: a hot column, a jump, a dead pixel.
	timings := pattern.Timings()
	for y := 0; y < rows; y++ {
		for r := 0; r < 6; r++ {
			cube.Set(r, y, 7, 300*timings[r].TBar)
		}
	}
	for r := 3; r < 6; r++ {
		cube.Set(r, 5, 5, cube.At(r, 5, 5)+5000)
	}
	for r := 0; r < 6; r++ {
		cube.Set(r, 9, 9, math.NaN())
	}

	serial, err := Fit(cube, UniformNoise(8), pattern, testConfig(1))
	if err != nil {
		t.Fatalf("serial Fit: %v", err)
	}
	parallel, err := Fit(cube, UniformNoise(8), pattern, Config{
		Pixel:     pixel.Config{Fit: fit.Config{WithIntercept: true}},
		Workers:   4,
		BlockRows: 5,
	})
	if err != nil {
		t.Fatalf("parallel Fit: %v", err)
	}

	for i := range serial.Rate {
		sv, pv := serial.Rate[i], parallel.Rate[i]
		if sv != pv && !(math.IsNaN(sv) && math.IsNaN(pv)) {
			t.Fatalf("rate[%d]: serial %.9f, parallel %.9f", i, sv, pv)
		}
	}
	for i := range serial.Jumps {
		if serial.Jumps[i] != parallel.Jumps[i] {
			t.Fatalf("jumps[%d] differ between serial and parallel", i)
		}
	}
	for i := range serial.Quality {
		if serial.Quality[i] != parallel.Quality[i] {
			t.Fatalf("quality[%d]: serial %d, parallel %d", i, serial.Quality[i], parallel.Quality[i])
		}
	}
	if serial.Stats.JumpsFlagged != parallel.Stats.JumpsFlagged {
		t.Errorf("jump counts differ: %d vs %d", serial.Stats.JumpsFlagged, parallel.Stats.JumpsFlagged)
	}
}

func TestFitFlagsJumpInCube(t *testing.T) {
	pattern := ramp.UniformPattern(5, 1, 1.0)
	cube := linearCube(5, 2, 2, pattern, 100)
	for r := 3; r < 5; r++ {
		cube.Set(r, 1, 1, cube.At(r, 1, 1)+2000)
	}

	product, err := Fit(cube, UniformNoise(5), pattern, testConfig(1))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !product.JumpAt(3, 1, 1) {
		t.Error("jump at resultant 3 of pixel (1,1) not flagged")
	}
	if product.JumpAt(3, 0, 0) {
		t.Error("clean pixel (0,0) flagged")
	}
	if !pixel.Quality(product.QualityAt(1, 1)).Has(pixel.QualityJumpDetected) {
		t.Error("jump quality bit not set on pixel (1,1)")
	}
	if math.Abs(product.RateAt(1, 1)-100) > 1e-6 {
		t.Errorf("jump pixel rate %.6f, want 100", product.RateAt(1, 1))
	}
}

func TestFitSaturatedPixel(t *testing.T) {
	pattern := ramp.UniformPattern(4, 1, 1.0)
	cube := linearCube(4, 2, 2, pattern, 50)
	for r := 0; r < 4; r++ {
		cube.Set(r, 0, 1, math.NaN())
	}

	product, err := Fit(cube, UniformNoise(5), pattern, testConfig(1))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !math.IsNaN(product.RateAt(0, 1)) || !math.IsNaN(product.VarianceAt(0, 1)) {
		t.Error("saturated pixel should report NaN rate and variance")
	}
	q := pixel.Quality(product.QualityAt(0, 1))
	if !q.Has(pixel.QualityAllInvalid) || !q.Has(pixel.QualitySaturated) {
		t.Errorf("saturated pixel quality %s", q)
	}
	if product.Stats.Invalid != 1 {
		t.Errorf("invalid count %d, want 1", product.Stats.Invalid)
	}
}

func TestFitInputValidation(t *testing.T) {
	pattern := ramp.UniformPattern(4, 1, 1.0)

	tests := []struct {
		name    string
		cube    *Cube
		pattern ramp.Pattern
	}{
		{"mismatched pattern", NewCube(3, 2, 2), pattern},
		{"truncated counts", &Cube{Counts: make([]float64, 7), NResultants: 4, Rows: 2, Cols: 1}, pattern},
		{"bad pattern", NewCube(1, 1, 1), ramp.Pattern{Reads: [][]int{{0}}, ReadTime: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Fit(tt.cube, UniformNoise(5), tt.pattern, testConfig(1)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPlaneNoise(t *testing.T) {
	plane := []float64{1, 2, 3, 4, 5, 6}
	nm, err := PlaneNoise(plane, 2, 3)
	if err != nil {
		t.Fatalf("PlaneNoise: %v", err)
	}
	if got := nm.At(1, 2); got != 6 {
		t.Errorf("At(1,2) = %g, want 6", got)
	}
	if _, err := PlaneNoise(plane, 2, 2); err == nil {
		t.Error("expected dimension error")
	}
}

func TestProductRoundtrip(t *testing.T) {
	product := &Product{
		RunID:       "test-run",
		Rows:        1,
		Cols:        2,
		NResultants: 2,
		Rate:        []float64{1.5, math.NaN()},
		Variance:    []float64{0.25, math.NaN()},
		Jumps:       []bool{false, true, false, false},
		Quality:     []uint8{0, 3},
		Stats:       Stats{Pixels: 2, Fitted: 1, Invalid: 1},
	}

	data, err := product.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeProduct(data)
	if err != nil {
		t.Fatalf("DecodeProduct: %v", err)
	}
	if decoded.RunID != product.RunID || decoded.Rate[0] != 1.5 || !decoded.Jumps[1] {
		t.Errorf("decoded product differs: %+v", decoded)
	}
	if !math.IsNaN(decoded.Rate[1]) {
		t.Error("NaN sentinel lost in roundtrip")
	}
	if decoded.Stats.Fitted != 1 {
		t.Errorf("stats lost: %+v", decoded.Stats)
	}
}
