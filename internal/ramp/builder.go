package ramp

import "math"

// Build averages a pixel's raw reads into a resultant sequence according to
// the pattern. Invalid or saturated reads are excluded from the average; a
// resultant left with no valid reads is marked invalid but keeps its index
// slot. The effective read noise of each resultant mean scales as
// sigma/sqrt(N) over its valid reads.
func Build(reads []ReadSample, pattern Pattern, readNoise float64) Sequence {
	timings := pattern.Timings()
	resultants := make([]Resultant, len(pattern.Reads))

	for i, group := range pattern.Reads {
		var sum float64
		valid := 0
		for _, k := range group {
			if k >= len(reads) || !reads[k].Valid {
				continue
			}
			sum += reads[k].Counts
			valid++
		}
		if valid == 0 {
			resultants[i] = Resultant{TBar: timings[i].TBar, Tau: timings[i].Tau}
			continue
		}
		resultants[i] = Resultant{
			Counts:  sum / float64(valid),
			TBar:    timings[i].TBar,
			Tau:     timings[i].Tau,
			NReads:  valid,
			ReadVar: readNoise * readNoise / float64(valid),
			Valid:   true,
		}
	}
	return Sequence{Resultants: resultants, ReadNoise: readNoise}
}

// FromResultants assembles a sequence from counts that were already averaged
// upstream, one value per resultant slot. NaN or negative counts mark an
// invalid (saturated or bad) resultant. This is the path used when the input
// cube carries resultant means rather than raw reads.
func FromResultants(counts []float64, timings []Timing, readNoise float64) Sequence {
	resultants := make([]Resultant, len(counts))
	for i, c := range counts {
		if i >= len(timings) {
			break
		}
		tm := timings[i]
		r := Resultant{TBar: tm.TBar, Tau: tm.Tau}
		if !math.IsNaN(c) && c >= 0 {
			r.Counts = c
			r.NReads = tm.NReads
			r.ReadVar = readNoise * readNoise / float64(tm.NReads)
			r.Valid = true
		}
		resultants[i] = r
	}
	return Sequence{Resultants: resultants, ReadNoise: readNoise}
}
