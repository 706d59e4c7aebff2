package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
)

var (
	// ErrDeviceUnavailable means no sensor is reachable. Callers are
	// expected to fall back to a SyntheticSource rather than fail.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrCaptureTimeout means no frame arrived within the capture timeout.
	ErrCaptureTimeout = errors.New("frame capture timed out")
)

// Settings holds the sensor parameters a caller may change.
type Settings struct {
	ExposureUs int     `json:"exposure_us"`
	Gain       float64 `json:"gain"`
}

// Bounds declares the device-accepted range for each setting, inclusive
// at both ends.
type Bounds struct {
	ExposureMinUs int
	ExposureMaxUs int
	GainMin       float64
	GainMax       float64
}

// Source produces frames and accepts parameter changes. Implementations
// must be safe for use by one capturer and one settings writer at a time;
// serialization across callers is the Broadcaster's and Registry's job.
type Source interface {
	// CaptureFrame blocks until a frame is available or the context is
	// done. Returns ErrCaptureTimeout when the deadline passes first.
	CaptureFrame(ctx context.Context) (*Frame, error)

	// ApplySettings pushes settings to the device and returns the values
	// actually applied, which may differ from the request if the device
	// rounds. Out-of-bounds values are the caller's problem: validate
	// against Bounds first.
	ApplySettings(s Settings) (Settings, error)

	// Bounds reports the device-declared setting ranges.
	Bounds() Bounds

	Close() error
}

// Open connects to the sensor daemon at endpoint, falling back to a
// deterministic synthetic source when the daemon is unreachable or no
// endpoint is configured. Development and testing never require real
// hardware.
func Open(endpoint, controlURL string, width, height int) Source {
	if endpoint != "" {
		src, err := OpenRemote(endpoint, controlURL)
		if err == nil {
			return src
		}
		log.Printf("camera: %v; falling back to synthetic source", err)
	}
	return NewSynthetic(width, height)
}

func boundsError(field string, min, max, got any) error {
	return fmt.Errorf("%s out of range [%v, %v]: got %v", field, min, max, got)
}
