// Package settings is the single point of truth for camera and
// reconstruction parameters. Updates are merge-or-reject: a patch with
// any out-of-range field is rejected as a whole and the current values
// are left untouched.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"holocam-go/internal/camera"
	"holocam-go/internal/holography"
)

// ErrValidation is wrapped by every rejected update. The message names
// the offending field and its valid range.
var ErrValidation = errors.New("validation error")

// CameraPatch carries only the fields the caller wants to change.
type CameraPatch struct {
	ExposureUs *int     `json:"exposure_us,omitempty"`
	Gain       *float64 `json:"gain,omitempty"`
}

// ReconstructionPatch mirrors CameraPatch for the reconstruction side.
type ReconstructionPatch struct {
	WavelengthNm *float64 `json:"wavelength_nm,omitempty"`
	PixelSizeUm  *float64 `json:"pixel_size_um,omitempty"`
	DistanceMm   *float64 `json:"distance_mm,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
	Crop         *int     `json:"crop,omitempty"`
}

type Registry struct {
	src camera.Source

	mu    sync.Mutex
	cam   camera.Settings
	recon holography.Parameters
}

func NewRegistry(src camera.Source, initialCam camera.Settings, initialRecon holography.Parameters) *Registry {
	return &Registry{
		src:   src,
		cam:   initialCam,
		recon: initialRecon,
	}
}

// Current returns a read-only snapshot. It never touches hardware.
func (r *Registry) Current() (camera.Settings, holography.Parameters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cam, r.recon
}

// UpdateCamera merges the provided fields, validates the result against
// the device bounds, forwards it to the source and stores whatever the
// source reports as applied. Any out-of-range field rejects the whole
// update.
func (r *Registry) UpdateCamera(patch CameraPatch) (camera.Settings, error) {
	if patch.ExposureUs == nil && patch.Gain == nil {
		return camera.Settings{}, fmt.Errorf("%w: no camera parameters supplied", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	merged := r.cam
	if patch.ExposureUs != nil {
		merged.ExposureUs = *patch.ExposureUs
	}
	if patch.Gain != nil {
		merged.Gain = *patch.Gain
	}

	b := r.src.Bounds()
	if patch.ExposureUs != nil && (merged.ExposureUs < b.ExposureMinUs || merged.ExposureUs > b.ExposureMaxUs) {
		return camera.Settings{}, fmt.Errorf("%w: exposure_us must be in [%d, %d]: got %d",
			ErrValidation, b.ExposureMinUs, b.ExposureMaxUs, merged.ExposureUs)
	}
	if patch.Gain != nil && (merged.Gain < b.GainMin || merged.Gain > b.GainMax) {
		return camera.Settings{}, fmt.Errorf("%w: gain must be in [%g, %g]: got %g",
			ErrValidation, b.GainMin, b.GainMax, merged.Gain)
	}

	applied, err := r.src.ApplySettings(merged)
	if err != nil {
		return camera.Settings{}, err
	}
	r.cam = applied
	return applied, nil
}

// UpdateReconstruction merges the provided fields with the same
// merge-or-reject semantics.
func (r *Registry) UpdateReconstruction(patch ReconstructionPatch) (holography.Parameters, error) {
	if patch.WavelengthNm == nil && patch.PixelSizeUm == nil && patch.DistanceMm == nil &&
		patch.Enabled == nil && patch.Crop == nil {
		return holography.Parameters{}, fmt.Errorf("%w: no reconstruction parameters supplied", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	merged := r.recon
	if patch.WavelengthNm != nil {
		merged.WavelengthNm = *patch.WavelengthNm
	}
	if patch.PixelSizeUm != nil {
		merged.PixelSizeUm = *patch.PixelSizeUm
	}
	if patch.DistanceMm != nil {
		merged.DistanceMm = *patch.DistanceMm
	}
	if patch.Enabled != nil {
		merged.Enabled = *patch.Enabled
	}
	if patch.Crop != nil {
		merged.Crop = *patch.Crop
	}

	if err := merged.Validate(); err != nil {
		return holography.Parameters{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r.recon = merged
	return merged, nil
}
