package camera

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// syntheticSeed fixes the noise stream so test runs are reproducible.
const syntheticSeed = 0x5743414d // "WCAM"

// SyntheticSource generates frames that look like an in-line hologram of
// a circular target: a bright disc with concentric diffraction-like rings,
// plus shot noise scaled by the current exposure and gain. It stands in
// for the sensor whenever hardware is absent.
type SyntheticSource struct {
	width  int
	height int

	mu       sync.Mutex
	settings Settings
	rng      *rand.Rand
	seq      uint64
	base     []float64
}

func NewSynthetic(width, height int) *SyntheticSource {
	if width < 1 {
		width = 640
	}
	if height < 1 {
		height = 480
	}
	s := &SyntheticSource{
		width:  width,
		height: height,
		settings: Settings{
			ExposureUs: 10000,
			Gain:       1.0,
		},
		rng: rand.New(rand.NewSource(syntheticSeed)),
	}
	s.base = renderTarget(width, height)
	return s
}

// renderTarget precomputes the noiseless scene: a bright disc at the
// center with a faint ring pattern around it.
func renderTarget(width, height int) []float64 {
	base := make([]float64, width*height)
	cx := float64(width) / 2
	cy := float64(height) / 2
	radius := float64(minInt(width, height)) / 12
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			r := math.Sqrt(dx*dx + dy*dy)
			v := 0.08
			if r <= radius {
				v = 0.9
			} else {
				// Decaying cosine rings approximating near-field fringes.
				v += 0.25 * math.Exp(-r/(4*radius)) * (1 + math.Cos(r/radius*math.Pi*2)) / 2
			}
			base[y*width+x] = v
		}
	}
	return base
}

func (s *SyntheticSource) CaptureFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	// Exposure scales the signal, gain scales signal and noise alike.
	exposureScale := float64(s.settings.ExposureUs) / 10000.0
	if exposureScale > 2.5 {
		exposureScale = 2.5
	}
	gain := s.settings.Gain

	pix := make([]uint8, len(s.base))
	for i, b := range s.base {
		signal := b * 255 * exposureScale * gain
		noise := s.rng.NormFloat64() * math.Sqrt(math.Max(signal, 1)) * 0.05 * gain
		v := signal + noise
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		pix[i] = uint8(v)
	}
	return &Frame{
		Width:     s.width,
		Height:    s.height,
		Pix:       pix,
		Seq:       s.seq,
		Timestamp: time.Now(),
	}, nil
}

func (s *SyntheticSource) ApplySettings(req Settings) (Settings, error) {
	b := s.Bounds()
	if req.ExposureUs < b.ExposureMinUs || req.ExposureUs > b.ExposureMaxUs {
		return Settings{}, boundsError("exposure_us", b.ExposureMinUs, b.ExposureMaxUs, req.ExposureUs)
	}
	if req.Gain < b.GainMin || req.Gain > b.GainMax {
		return Settings{}, boundsError("gain", b.GainMin, b.GainMax, req.Gain)
	}
	s.mu.Lock()
	s.settings = req
	s.mu.Unlock()
	return req, nil
}

func (s *SyntheticSource) Bounds() Bounds {
	return Bounds{
		ExposureMinUs: 100,
		ExposureMaxUs: 1000000,
		GainMin:       1.0,
		GainMax:       16.0,
	}
}

func (s *SyntheticSource) Close() error {
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
