package exposure

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Product is the terminal output of fitting one exposure. Rate and Variance
// are row-major planes with NaN at invalid pixels; Jumps is a resultant-major
// bit cube matching the input layout; Quality holds the per-pixel condition
// bitmask. It carries msgpack tags for handoff to the pipeline layer.
type Product struct {
	RunID       string        `msgpack:"run_id"`
	Rows        int           `msgpack:"rows"`
	Cols        int           `msgpack:"cols"`
	NResultants int           `msgpack:"n_resultants"`
	Rate        []float64     `msgpack:"rate"`
	Variance    []float64     `msgpack:"variance"`
	Jumps       []bool        `msgpack:"jumps"`
	Quality     []uint8       `msgpack:"quality"`
	Stats       Stats         `msgpack:"stats"`
	Elapsed     time.Duration `msgpack:"elapsed_ns"`
}

// Stats are exposure-level diagnostic counters. IterationCapHits counts
// pixels whose jump scan hit the iteration cap; their last mask was still
// accepted, so this is a health signal rather than an error.
type Stats struct {
	Pixels           int64 `msgpack:"pixels"`
	Fitted           int64 `msgpack:"fitted"`
	Invalid          int64 `msgpack:"invalid"`
	JumpPixels       int64 `msgpack:"jump_pixels"`
	JumpsFlagged     int64 `msgpack:"jumps_flagged"`
	IterationCapHits int64 `msgpack:"iteration_cap_hits"`
}

// RateAt returns the combined slope for pixel (y, x).
func (p *Product) RateAt(y, x int) float64 { return p.Rate[y*p.Cols+x] }

// VarianceAt returns the combined slope variance for pixel (y, x).
func (p *Product) VarianceAt(y, x int) float64 { return p.Variance[y*p.Cols+x] }

// QualityAt returns the quality bitmask for pixel (y, x).
func (p *Product) QualityAt(y, x int) uint8 { return p.Quality[y*p.Cols+x] }

// JumpAt reports whether resultant r of pixel (y, x) starts a discontinuity.
func (p *Product) JumpAt(r, y, x int) bool {
	return p.Jumps[(r*p.Rows+y)*p.Cols+x]
}

// Encode serializes the product to msgpack.
func (p *Product) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding product: %w", err)
	}
	return b, nil
}

// DecodeProduct deserializes a msgpack-encoded product.
func DecodeProduct(data []byte) (*Product, error) {
	var p Product
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding product: %w", err)
	}
	return &p, nil
}
