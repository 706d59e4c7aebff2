package camera

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Sensor daemon wire format: CBOR maps shaped like
//
//	{ "type": "image", "width": <int>, "height": <int>,
//	  "timestamp": <float unix seconds>, "data": <pixels> }
//
// where data is either a plain byte string of 8-bit samples or an
// RFC 8746 typed array (tag 64 uint8, tag 69 uint16 little-endian).
// 16-bit samples are scaled down to the 8-bit display range.
const (
	tagUint8    = 64
	tagUint16LE = 69
)

func decodeFrameMessage(msg []byte) (*Frame, bool) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		log.Printf("camera: CBOR decode error: %v", err)
		return nil, false
	}

	msgType, _ := payload["type"].(string)
	if msgType != "image" {
		return nil, false
	}

	width, err := toInt(payload["width"])
	if err != nil {
		log.Printf("camera: invalid width: %v", err)
		return nil, false
	}
	height, err := toInt(payload["height"])
	if err != nil {
		log.Printf("camera: invalid height: %v", err)
		return nil, false
	}
	if width < 1 || height < 1 {
		return nil, false
	}

	pix, err := decodePixels(payload["data"])
	if err != nil {
		log.Printf("camera: invalid pixel data: %v", err)
		return nil, false
	}
	if len(pix) != width*height {
		log.Printf("camera: pixel count %d does not match %dx%d", len(pix), width, height)
		return nil, false
	}

	ts := time.Now()
	if raw, ok := payload["timestamp"]; ok {
		if sec, err := toFloat(raw); err == nil {
			ts = time.Unix(0, int64(sec*1e9))
		}
	}

	return &Frame{
		Width:     width,
		Height:    height,
		Pix:       pix,
		Timestamp: ts,
	}, true
}

func decodePixels(value any) ([]uint8, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case cbor.Tag:
		data, ok := v.Content.([]byte)
		if !ok {
			return nil, fmt.Errorf("unsupported typed array content %T", v.Content)
		}
		switch v.Number {
		case tagUint8:
			return data, nil
		case tagUint16LE:
			out := make([]uint8, len(data)/2)
			for i := range out {
				out[i] = uint8(binary.LittleEndian.Uint16(data[i*2:i*2+2]) >> 8)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("unsupported typed array tag %d", v.Number)
		}
	default:
		return nil, fmt.Errorf("unsupported pixel payload %T", value)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
