package ramp

import "fmt"

// Pattern describes which raw reads average into which resultant. Reads holds
// zero-based read indices per resultant, in readout order. ReadTime is the
// interval between consecutive reads in seconds; read k is taken at
// (k+1)*ReadTime after exposure start.
type Pattern struct {
	Reads    [][]int
	ReadTime float64
}

// Timing holds the derived per-resultant time terms. Tau is the
// variance-weighted mean time that enters the Poisson variance of an
// averaged resultant; it equals TBar for single-read resultants.
type Timing struct {
	TBar   float64
	Tau    float64
	NReads int
}

// UniformPattern returns a pattern of nResultants groups of readsPer
// consecutive reads each, spaced readTime seconds apart.
func UniformPattern(nResultants, readsPer int, readTime float64) Pattern {
	reads := make([][]int, nResultants)
	k := 0
	for i := range reads {
		group := make([]int, readsPer)
		for j := range group {
			group[j] = k
			k++
		}
		reads[i] = group
	}
	return Pattern{Reads: reads, ReadTime: readTime}
}

// ReadAt returns the time of raw read k.
func (p Pattern) ReadAt(k int) float64 { return float64(k+1) * p.ReadTime }

// Validate checks that the pattern is non-empty, time-ordered, and that no
// read index repeats or goes backward between resultants.
func (p Pattern) Validate() error {
	if len(p.Reads) == 0 {
		return fmt.Errorf("pattern has no resultants")
	}
	if p.ReadTime <= 0 {
		return fmt.Errorf("read time %g must be positive", p.ReadTime)
	}
	last := -1
	for i, group := range p.Reads {
		if len(group) == 0 {
			return fmt.Errorf("resultant %d averages no reads", i)
		}
		for _, k := range group {
			if k <= last {
				return fmt.Errorf("resultant %d: read index %d out of order", i, k)
			}
			last = k
		}
	}
	return nil
}

// Timings derives TBar, Tau, and NReads for every resultant.
//
// For a resultant averaging N equally noisy reads at times t_1..t_N:
//
//	TBar = (1/N)  Σ t_k
//	Tau  = (1/N²) Σ w_k t_k   with w_k stepping down from 2N-1 (earliest
//	                          read) to 1 (latest); the weights sum to N²
//
// Tau weights early reads more heavily because their signal persists through
// every later read in the average.
func (p Pattern) Timings() []Timing {
	out := make([]Timing, len(p.Reads))
	for i, group := range p.Reads {
		n := len(group)
		var tbar, tau float64
		for j, k := range group {
			t := p.ReadAt(k)
			tbar += t
			tau += float64(2*(n-j)-1) * t
		}
		out[i] = Timing{
			TBar:   tbar / float64(n),
			Tau:    tau / float64(n*n),
			NReads: n,
		}
	}
	return out
}
