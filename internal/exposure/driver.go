package exposure

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/chrissnell/rampfit/internal/log"
	"github.com/chrissnell/rampfit/internal/pixel"
	"github.com/chrissnell/rampfit/internal/ramp"
)

// Config controls the exposure driver.
type Config struct {
	Pixel pixel.Config
	// Workers sets the worker pool size; <= 1 runs the serial loop.
	// Zero means GOMAXPROCS.
	Workers int
	// BlockRows is how many detector rows one work unit covers.
	BlockRows int
}

const defaultBlockRows = 16

// Fit runs the per-pixel pipeline over every pixel of the cube and returns
// the assembled product. Pixels are fully independent: workers share only
// the read-only cube and write disjoint, pixel-indexed output slices, so the
// data path needs no locks. Per-pixel failures become quality bits; Fit only
// returns an error for malformed inputs.
func Fit(cube *Cube, noise NoiseMap, pattern ramp.Pattern, cfg Config) (*Product, error) {
	if err := cube.validate(); err != nil {
		return nil, err
	}
	if err := pattern.Validate(); err != nil {
		return nil, fmt.Errorf("read pattern: %w", err)
	}
	if len(pattern.Reads) != cube.NResultants {
		return nil, fmt.Errorf("pattern has %d resultants, cube has %d",
			len(pattern.Reads), cube.NResultants)
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	blockRows := cfg.BlockRows
	if blockRows <= 0 {
		blockRows = defaultBlockRows
	}

	start := time.Now()
	runID := uuid.New().String()
	log.Infow("fitting exposure",
		"run_id", runID,
		"rows", cube.Rows,
		"cols", cube.Cols,
		"resultants", cube.NResultants,
		"workers", workers,
	)

	product := &Product{
		RunID:       runID,
		Rows:        cube.Rows,
		Cols:        cube.Cols,
		NResultants: cube.NResultants,
		Rate:        make([]float64, cube.Rows*cube.Cols),
		Variance:    make([]float64, cube.Rows*cube.Cols),
		Jumps:       make([]bool, len(cube.Counts)),
		Quality:     make([]uint8, cube.Rows*cube.Cols),
	}

	run := &fitRun{
		cube:     cube,
		noise:    noise,
		timings:  pattern.Timings(),
		pipeline: pixel.NewPipeline(cfg.Pixel),
		product:  product,
	}

	if workers <= 1 {
		buf := make([]float64, cube.NResultants)
		for y := 0; y < cube.Rows; y++ {
			run.fitRow(y, buf)
		}
	} else {
		if err := run.parallel(workers, blockRows); err != nil {
			return nil, err
		}
	}

	product.Stats = Stats{
		Pixels:           run.pixels.Load(),
		Fitted:           run.fitted.Load(),
		Invalid:          run.invalid.Load(),
		JumpPixels:       run.jumpPixels.Load(),
		JumpsFlagged:     run.jumpsFlagged.Load(),
		IterationCapHits: run.capHits.Load(),
	}
	product.Elapsed = time.Since(start)

	log.Infow("exposure fit complete",
		"run_id", runID,
		"pixels", product.Stats.Pixels,
		"fitted", product.Stats.Fitted,
		"invalid", product.Stats.Invalid,
		"jumps_flagged", product.Stats.JumpsFlagged,
		"cap_hits", product.Stats.IterationCapHits,
		"elapsed", product.Elapsed,
	)
	return product, nil
}

// fitRun is the shared state of one exposure fit. Everything except the
// atomic counters is either read-only or written at disjoint indices.
type fitRun struct {
	cube     *Cube
	noise    NoiseMap
	timings  []ramp.Timing
	pipeline *pixel.Pipeline
	product  *Product

	pixels       atomic.Int64
	fitted       atomic.Int64
	invalid      atomic.Int64
	jumpPixels   atomic.Int64
	jumpsFlagged atomic.Int64
	capHits      atomic.Int64
}

func (r *fitRun) parallel(workers, blockRows int) error {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for y0 := 0; y0 < r.cube.Rows; y0 += blockRows {
		y0 := y0
		y1 := y0 + blockRows
		if y1 > r.cube.Rows {
			y1 = r.cube.Rows
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			buf := make([]float64, r.cube.NResultants)
			for y := y0; y < y1; y++ {
				r.fitRow(y, buf)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("submitting row block %d: %w", y0, err)
		}
	}
	wg.Wait()
	return nil
}

// fitRow processes every pixel of one detector row. buf is a per-worker
// scratch slice of NResultants counts.
func (r *fitRun) fitRow(y int, buf []float64) {
	cube := r.cube
	for x := 0; x < cube.Cols; x++ {
		cube.Ramp(buf, y, x)
		seq := ramp.FromResultants(buf, r.timings, r.noise.At(y, x))
		res := r.pipeline.Process(seq)
		r.record(y, x, res)
	}
}

func (r *fitRun) record(y, x int, res pixel.Result) {
	p := r.product
	idx := y*p.Cols + x
	p.Rate[idx] = res.Slope
	p.Variance[idx] = res.Variance
	p.Quality[idx] = uint8(res.Quality)

	jumps := int64(0)
	for rr, flagged := range res.Jumps {
		if flagged {
			p.Jumps[(rr*p.Rows+y)*p.Cols+x] = true
			jumps++
		}
	}

	r.pixels.Add(1)
	if res.Valid {
		r.fitted.Add(1)
	} else {
		r.invalid.Add(1)
	}
	if jumps > 0 {
		r.jumpPixels.Add(1)
		r.jumpsFlagged.Add(jumps)
	}
	if res.JumpCapReached {
		r.capHits.Add(1)
	}
}

// MeanRate returns the mean of the finite pixel rates, for quick-look
// diagnostics.
func (p *Product) MeanRate() float64 {
	var sum float64
	n := 0
	for _, v := range p.Rate {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
