package camera

import (
	"image"
	"time"
)

// Frame is a single grayscale image captured from a Source. It is
// immutable once produced: holders may share it freely but must not
// mutate Pix.
type Frame struct {
	Width     int
	Height    int
	Pix       []uint8 // row-major, len = Width*Height
	Seq       uint64
	Timestamp time.Time
}

// Stats summarizes the pixel values of a frame.
type Stats struct {
	Min  uint8   `json:"min"`
	Max  uint8   `json:"max"`
	Mean float64 `json:"mean"`
}

func (f *Frame) Stats() Stats {
	if len(f.Pix) == 0 {
		return Stats{}
	}
	min := f.Pix[0]
	max := f.Pix[0]
	var sum uint64
	for _, v := range f.Pix {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += uint64(v)
	}
	return Stats{
		Min:  min,
		Max:  max,
		Mean: float64(sum) / float64(len(f.Pix)),
	}
}

// Gray wraps the frame pixels in an image.Gray without copying.
func (f *Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{
		Width:     f.Width,
		Height:    f.Height,
		Pix:       pix,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}
