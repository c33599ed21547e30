// Package simulate generates synthetic exposures: linear ramps with Poisson
// accumulation, Gaussian read noise, optional cosmic-ray hits, and optional
// saturation. Used by the CLI and the end-to-end tests.
package simulate

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrissnell/rampfit/internal/exposure"
	"github.com/chrissnell/rampfit/internal/ramp"
)

// Spec describes the synthetic detector and sky.
type Spec struct {
	// Rate is the true signal accumulation rate, counts per second.
	Rate float64
	// ReadNoise is the per-read Gaussian sigma in counts.
	ReadNoise float64
	// Pedestal offsets every read, keeping low-signal ramps away from the
	// negative-counts invalid sentinel.
	Pedestal float64
	// CosmicRayRate is the expected number of hits per pixel per exposure.
	CosmicRayRate float64
	// CosmicRayCounts is the mean counts a hit deposits.
	CosmicRayCounts float64
	// Saturation marks reads at or above this level invalid. Zero disables.
	Saturation float64
	// NoPoisson disables shot noise, for noiseless reference ramps.
	NoPoisson bool
	Seed      uint64
}

// Exposure builds a cube of resultant means for a rows x cols detector read
// out with the given pattern. The output is deterministic for a fixed spec.
func Exposure(rows, cols int, pattern ramp.Pattern, spec Spec) *exposure.Cube {
	cube := exposure.NewCube(len(pattern.Reads), rows, cols)
	src := rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			FillPixel(cube, y, x, pattern, spec, src)
		}
	}
	return cube
}

// FillPixel simulates one pixel's ramp and stores its resultant means into
// the cube. Saturated resultants are stored as NaN.
func FillPixel(cube *exposure.Cube, y, x int, pattern ramp.Pattern, spec Spec, src rand.Source) {
	rng := rand.New(src)
	lastRead := 0
	for _, group := range pattern.Reads {
		for _, k := range group {
			if k >= lastRead {
				lastRead = k + 1
			}
		}
	}

	reads := make([]ramp.ReadSample, lastRead)
	accumulated := 0.0
	prevT := 0.0
	for k := range reads {
		t := pattern.ReadAt(k)
		dt := t - prevT
		prevT = t
		if spec.NoPoisson {
			accumulated += spec.Rate * dt
		} else if lambda := spec.Rate * dt; lambda > 0 {
			accumulated += distuv.Poisson{Lambda: lambda, Src: src}.Rand()
		}
		reads[k] = ramp.ReadSample{Index: k, Time: t, Counts: spec.Pedestal + accumulated, Valid: true}
	}

	// Cosmic rays deposit instantly and persist through every later read.
	if spec.CosmicRayRate > 0 {
		hits := int(distuv.Poisson{Lambda: spec.CosmicRayRate, Src: src}.Rand())
		for h := 0; h < hits; h++ {
			at := rng.IntN(lastRead)
			InjectCosmicRay(reads, at, spec.CosmicRayCounts)
		}
	}

	for k := range reads {
		if spec.ReadNoise > 0 {
			reads[k].Counts += distuv.Normal{Mu: 0, Sigma: spec.ReadNoise, Src: src}.Rand()
		}
		if spec.Saturation > 0 && reads[k].Counts >= spec.Saturation {
			reads[k].Valid = false
		}
	}

	seq := ramp.Build(reads, pattern, spec.ReadNoise)
	for r, res := range seq.Resultants {
		if res.Valid {
			cube.Set(r, y, x, res.Counts)
		} else {
			cube.Set(r, y, x, math.NaN())
		}
	}
}

// InjectCosmicRay adds counts to every read from index at onward, the
// signature a real hit leaves in accumulated data.
func InjectCosmicRay(reads []ramp.ReadSample, at int, counts float64) {
	for k := at; k < len(reads); k++ {
		reads[k].Counts += counts
	}
}
