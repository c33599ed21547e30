// Package pixel runs the full per-pixel pipeline — jump scan, segment fits,
// inverse-variance combination — and reports one result per pixel.
package pixel

import "strings"

// Quality is the per-pixel condition bitmask carried into the output
// product. Bits are informational on valid pixels and diagnostic on
// invalid ones.
type Quality uint8

const (
	// QualitySaturated: at least one resultant was invalid (saturated or bad).
	QualitySaturated Quality = 1 << iota
	// QualityTooShort: fewer than 2 valid resultants, no fit possible.
	QualityTooShort
	// QualityAllInvalid: every segment fit failed.
	QualityAllInvalid
	// QualityDegenerateTiming: at least one segment was dropped for shared
	// timestamps.
	QualityDegenerateTiming
	// QualityJumpDetected: the jump mask is non-empty.
	QualityJumpDetected
)

var qualityNames = []struct {
	bit  Quality
	name string
}{
	{QualitySaturated, "saturated"},
	{QualityTooShort, "too_short"},
	{QualityAllInvalid, "all_invalid"},
	{QualityDegenerateTiming, "degenerate_timing"},
	{QualityJumpDetected, "jump"},
}

func (q Quality) Has(bit Quality) bool { return q&bit != 0 }

func (q Quality) String() string {
	if q == 0 {
		return "ok"
	}
	var parts []string
	for _, n := range qualityNames {
		if q.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// State tracks a pixel's progress through the pipeline. Terminal states are
// StateCombined and StateInvalid.
type State int

const (
	StateUnprocessed State = iota
	StateJumpScan
	StateSegmented
	StateFitted
	StateCombined
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnprocessed:
		return "unprocessed"
	case StateJumpScan:
		return "jump_scan"
	case StateSegmented:
		return "segmented"
	case StateFitted:
		return "fitted"
	case StateCombined:
		return "combined"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
