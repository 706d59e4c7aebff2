// Package holography reconstructs a viewable intensity image from an
// in-line hologram by angular-spectrum Fresnel back-propagation.
//
// The transform is a pure function of (frame, parameters): the amplitude
// field is Fourier transformed, multiplied by the free-space propagation
// kernel H(fx, fy) = exp(i·2π/λ·z)·exp(i·π·λ·z·(fx²+fy²)), and inverse
// transformed; the squared magnitude of the result is rescaled to the
// display range.
package holography

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"holocam-go/internal/camera"
)

// Engine runs reconstructions. FFT plans are pooled per transform length
// and checked out exclusively per run, so any number of reconstructions
// may execute in parallel with identical results.
type Engine struct {
	mu    sync.Mutex
	plans map[int][]*fourier.CmplxFFT
}

func NewEngine() *Engine {
	return &Engine{plans: make(map[int][]*fourier.CmplxFFT)}
}

func (e *Engine) acquire(n int) *fourier.CmplxFFT {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool := e.plans[n]
	if len(pool) == 0 {
		return fourier.NewCmplxFFT(n)
	}
	plan := pool[len(pool)-1]
	e.plans[n] = pool[:len(pool)-1]
	return plan
}

func (e *Engine) release(plan *fourier.CmplxFFT) {
	e.mu.Lock()
	e.plans[plan.Len()] = append(e.plans[plan.Len()], plan)
	e.mu.Unlock()
}

// Reconstruct back-propagates the hologram in frame and returns the
// reconstructed intensity as a new frame of the same (possibly cropped)
// size. The input frame is not modified.
func (e *Engine) Reconstruct(frame *camera.Frame, p Parameters) (*camera.Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Width < 1 || frame.Height < 1 || len(frame.Pix) != frame.Width*frame.Height {
		return nil, ErrDimensionMismatch
	}

	width, height, pix := frame.Width, frame.Height, frame.Pix
	if p.Crop > 0 {
		if p.Crop > width || p.Crop > height {
			return nil, rangeError("crop", 1, float64(minInt(width, height)), float64(p.Crop))
		}
		width, height, pix = centerCrop(frame, p.Crop)
	}

	// Estimate the amplitude field from recorded intensity.
	field := make([]complex128, width*height)
	for i, v := range pix {
		field[i] = complex(math.Sqrt(float64(v)/255.0), 0)
	}

	lambda := p.WavelengthNm * 1e-9
	ps := p.PixelSizeUm * 1e-6
	z := p.DistanceMm * 1e-3
	e.propagate(field, width, height, ps, lambda, z)

	// Intensity, rescaled to the display range.
	intensity := make([]float64, len(field))
	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for i, c := range field {
		v := real(c)*real(c) + imag(c)*imag(c)
		intensity[i] = v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	out := make([]uint8, len(intensity))
	span := maxV - minV
	if span > 0 {
		for i, v := range intensity {
			out[i] = uint8((v - minV) / span * 255)
		}
	}

	return &camera.Frame{
		Width:     width,
		Height:    height,
		Pix:       out,
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
	}, nil
}

// propagate applies the Fresnel kernel to field in place. z may be
// negative for back-propagation; z = 0 is the identity.
func (e *Engine) propagate(field []complex128, width, height int, ps, lambda, z float64) {
	e.fft2(field, width, height, false)

	fx := freqAxis(width, ps)
	fy := freqAxis(height, ps)
	carrier := cmplx.Exp(complex(0, 2*math.Pi/lambda*z))
	for y := 0; y < height; y++ {
		fy2 := fy[y] * fy[y]
		row := field[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			phase := math.Pi * lambda * z * (fx[x]*fx[x] + fy2)
			row[x] *= carrier * cmplx.Exp(complex(0, phase))
		}
	}

	e.fft2(field, width, height, true)
}

// fft2 transforms field in place, rows then columns. The inverse pass
// applies the 1/(width·height) normalization so a forward/inverse pair
// is the identity.
func (e *Engine) fft2(field []complex128, width, height int, inverse bool) {
	rowPlan := e.acquire(width)
	for y := 0; y < height; y++ {
		row := field[y*width : (y+1)*width]
		if inverse {
			copy(row, rowPlan.Sequence(nil, row))
		} else {
			copy(row, rowPlan.Coefficients(nil, row))
		}
	}
	e.release(rowPlan)

	colPlan := e.acquire(height)
	col := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			col[y] = field[y*width+x]
		}
		var out []complex128
		if inverse {
			out = colPlan.Sequence(nil, col)
		} else {
			out = colPlan.Coefficients(nil, col)
		}
		for y := 0; y < height; y++ {
			field[y*width+x] = out[y]
		}
	}
	e.release(colPlan)

	if inverse {
		norm := complex(1/float64(width*height), 0)
		for i := range field {
			field[i] *= norm
		}
	}
}

// freqAxis returns spatial frequencies in standard FFT ordering with
// step 1/(n·ps).
func freqAxis(n int, ps float64) []float64 {
	out := make([]float64, n)
	step := 1 / (float64(n) * ps)
	for k := range out {
		if k < (n+1)/2 {
			out[k] = float64(k) * step
		} else {
			out[k] = float64(k-n) * step
		}
	}
	return out
}

func centerCrop(frame *camera.Frame, size int) (int, int, []uint8) {
	x0 := (frame.Width - size) / 2
	y0 := (frame.Height - size) / 2
	pix := make([]uint8, size*size)
	for y := 0; y < size; y++ {
		srcRow := frame.Pix[(y0+y)*frame.Width+x0 : (y0+y)*frame.Width+x0+size]
		copy(pix[y*size:(y+1)*size], srcRow)
	}
	return size, size, pix
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
