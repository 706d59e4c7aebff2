// holocam-reconstruct runs the reconstruction offline: it reads a
// recorded hologram image, back-propagates it and writes the result,
// useful for tuning optics parameters without a running server.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"time"

	"holocam-go/internal/camera"
	"holocam-go/internal/holography"
)

func main() {
	var (
		inPath     = flag.String("in", "", "Input hologram (PNG or JPEG)")
		outPath    = flag.String("out", "reconstructed.png", "Output PNG path")
		wavelength = flag.Float64("wavelength-nm", 440.0, "Illumination wavelength in nanometers")
		pixelSize  = flag.Float64("pixel-size-um", 1.4, "Sensor pixel pitch in micrometers")
		distance   = flag.Float64("distance-mm", 5.0, "Reconstruction distance in millimeters")
		crop       = flag.Int("crop", 0, "Centered crop size in pixels (0: full frame)")
	)
	flag.Parse()

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	frame, err := loadFrame(*inPath)
	if err != nil {
		log.Fatalf("load %s: %v", *inPath, err)
	}

	params := holography.Parameters{
		WavelengthNm: *wavelength,
		PixelSizeUm:  *pixelSize,
		DistanceMm:   *distance,
		Enabled:      true,
		Crop:         *crop,
	}

	start := time.Now()
	result, err := holography.NewEngine().Reconstruct(frame, params)
	if err != nil {
		log.Fatalf("reconstruct: %v", err)
	}
	log.Printf("reconstructed %dx%d in %s", result.Width, result.Height, time.Since(start).Round(time.Millisecond))

	if err := writePNG(*outPath, result); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}
	log.Printf("wrote %s", *outPath)
}

func loadFrame(path string) (*camera.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma from 16-bit channel values.
			luma := (299*r + 587*g + 114*b) / 1000
			pix[y*width+x] = uint8(luma >> 8)
		}
	}
	return &camera.Frame{Width: width, Height: height, Pix: pix, Timestamp: time.Now()}, nil
}

func writePNG(path string, frame *camera.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, frame.Gray()); err != nil {
		f.Close()
		return fmt.Errorf("encode: %w", err)
	}
	return f.Close()
}
