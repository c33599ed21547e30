// Package ramp models per-pixel up-the-ramp samples: raw detector reads,
// the resultants they average into, and the time-ordered sequence a single
// pixel accumulates over one exposure.
package ramp

import (
	"fmt"
	"math"
)

// ReadSample is one non-destructive readout of a single pixel: accumulated
// counts at a known time since exposure start.
type ReadSample struct {
	Index  int
	Time   float64 // seconds since exposure start
	Counts float64 // accumulated counts
	Valid  bool
}

// Resultant is one (possibly averaged) sample point in a ramp. TBar is the
// mean read time of the contributing reads; Tau is the variance-weighted mean
// time that enters the Poisson variance of the averaged value.
type Resultant struct {
	Counts  float64 // mean counts over the valid contributing reads
	TBar    float64
	Tau     float64
	NReads  int     // reads averaged into this resultant
	ReadVar float64 // read-noise variance of the mean, sigma^2/NReads
	Valid   bool
}

// Sequence is the time-ordered resultants of one pixel. Indices are dense:
// invalid resultants keep their slot so segment indexing stays stable.
type Sequence struct {
	Resultants []Resultant
	ReadNoise  float64 // per-read sigma, same units as counts
}

// Len returns the number of resultant slots, valid or not.
func (s Sequence) Len() int { return len(s.Resultants) }

// NValid returns the number of valid resultants.
func (s Sequence) NValid() int {
	n := 0
	for _, r := range s.Resultants {
		if r.Valid {
			n++
		}
	}
	return n
}

// Validate checks the sequence invariant: valid resultants have strictly
// increasing mean times and finite counts.
func (s Sequence) Validate() error {
	prev := math.Inf(-1)
	for i, r := range s.Resultants {
		if !r.Valid {
			continue
		}
		if math.IsNaN(r.Counts) || math.IsInf(r.Counts, 0) {
			return fmt.Errorf("resultant %d: non-finite counts marked valid", i)
		}
		if r.TBar <= prev {
			return fmt.Errorf("resultant %d: time %g not after %g", i, r.TBar, prev)
		}
		prev = r.TBar
	}
	return nil
}
