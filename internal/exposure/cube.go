// Package exposure drives the per-pixel ramp pipeline over a full detector
// frame: it maps the read-only input cube across a worker pool and collects
// the per-pixel results into the output product.
package exposure

import (
	"fmt"
	"math"
)

// Cube is the input array of accumulated counts, resultant-major:
// Counts[(r*Rows+y)*Cols+x] is resultant r of pixel (y, x). NaN or negative
// values mark an invalid (saturated or bad) sample. The cube is read-only
// during fitting.
type Cube struct {
	Counts      []float64
	NResultants int
	Rows        int
	Cols        int
}

// NewCube allocates a cube of the given dimensions.
func NewCube(nResultants, rows, cols int) *Cube {
	return &Cube{
		Counts:      make([]float64, nResultants*rows*cols),
		NResultants: nResultants,
		Rows:        rows,
		Cols:        cols,
	}
}

// At returns the counts of resultant r for pixel (y, x).
func (c *Cube) At(r, y, x int) float64 {
	return c.Counts[(r*c.Rows+y)*c.Cols+x]
}

// Set stores the counts of resultant r for pixel (y, x).
func (c *Cube) Set(r, y, x int, v float64) {
	c.Counts[(r*c.Rows+y)*c.Cols+x] = v
}

// Ramp copies pixel (y, x)'s resultant counts into dst, which must have
// length NResultants. Avoids allocating per pixel in the hot loop.
func (c *Cube) Ramp(dst []float64, y, x int) {
	for r := 0; r < c.NResultants; r++ {
		dst[r] = c.At(r, y, x)
	}
}

func (c *Cube) validate() error {
	if c.NResultants < 1 || c.Rows < 1 || c.Cols < 1 {
		return fmt.Errorf("cube dimensions %dx%dx%d invalid", c.NResultants, c.Rows, c.Cols)
	}
	if len(c.Counts) != c.NResultants*c.Rows*c.Cols {
		return fmt.Errorf("cube holds %d samples, dimensions imply %d",
			len(c.Counts), c.NResultants*c.Rows*c.Cols)
	}
	return nil
}

// NoiseMap supplies the per-read read-noise sigma for each pixel, either a
// single detector-wide scalar or a full per-pixel plane.
type NoiseMap struct {
	scalar float64
	plane  []float64
	cols   int
}

// UniformNoise returns a detector-wide scalar read noise.
func UniformNoise(sigma float64) NoiseMap {
	return NoiseMap{scalar: sigma}
}

// PlaneNoise returns a per-pixel read-noise map, row-major.
func PlaneNoise(plane []float64, rows, cols int) (NoiseMap, error) {
	if len(plane) != rows*cols {
		return NoiseMap{}, fmt.Errorf("noise plane holds %d values, want %d", len(plane), rows*cols)
	}
	return NoiseMap{plane: plane, cols: cols}, nil
}

// At returns the read-noise sigma for pixel (y, x). Non-finite or negative
// map values fall back to zero read noise.
func (n NoiseMap) At(y, x int) float64 {
	sigma := n.scalar
	if n.plane != nil {
		sigma = n.plane[y*n.cols+x]
	}
	if math.IsNaN(sigma) || sigma < 0 {
		return 0
	}
	return sigma
}
