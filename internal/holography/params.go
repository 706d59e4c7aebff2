package holography

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters is wrapped by every parameter range rejection.
	ErrInvalidParameters = errors.New("invalid reconstruction parameters")

	// ErrDimensionMismatch means the input frame is empty or not a
	// rectangular grid.
	ErrDimensionMismatch = errors.New("frame is not a non-empty rectangular grid")
)

// Declared parameter ranges, inclusive at both ends.
const (
	WavelengthMinNm = 380.0
	WavelengthMaxNm = 700.0
	PixelSizeMinUm  = 0.5
	PixelSizeMaxUm  = 5.0
	DistanceMinMm   = 0.1
	DistanceMaxMm   = 20.0
)

// Parameters configures a reconstruction run.
//
// Crop, when non-zero, selects a centered Crop x Crop region before
// propagation. A power-of-two crop size is recommended for throughput;
// correctness does not depend on it.
type Parameters struct {
	WavelengthNm float64 `json:"wavelength_nm" yaml:"wavelength_nm"`
	PixelSizeUm  float64 `json:"pixel_size_um" yaml:"pixel_size_um"`
	DistanceMm   float64 `json:"distance_mm" yaml:"distance_mm"`
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Crop         int     `json:"crop" yaml:"crop"`
}

// DefaultParameters matches the optics of the reference instrument.
func DefaultParameters() Parameters {
	return Parameters{
		WavelengthNm: 440.0,
		PixelSizeUm:  1.4,
		DistanceMm:   5.0,
		Enabled:      false,
		Crop:         256,
	}
}

func (p Parameters) Validate() error {
	if p.WavelengthNm < WavelengthMinNm || p.WavelengthNm > WavelengthMaxNm {
		return rangeError("wavelength_nm", WavelengthMinNm, WavelengthMaxNm, p.WavelengthNm)
	}
	if p.PixelSizeUm < PixelSizeMinUm || p.PixelSizeUm > PixelSizeMaxUm {
		return rangeError("pixel_size_um", PixelSizeMinUm, PixelSizeMaxUm, p.PixelSizeUm)
	}
	if p.DistanceMm < DistanceMinMm || p.DistanceMm > DistanceMaxMm {
		return rangeError("distance_mm", DistanceMinMm, DistanceMaxMm, p.DistanceMm)
	}
	if p.Crop < 0 {
		return fmt.Errorf("%w: crop must be non-negative: got %d", ErrInvalidParameters, p.Crop)
	}
	return nil
}

func rangeError(field string, min, max, got float64) error {
	return fmt.Errorf("%w: %s out of range [%g, %g]: got %g", ErrInvalidParameters, field, min, max, got)
}
