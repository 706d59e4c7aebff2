package camera

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodeFrameMessageUint8(t *testing.T) {
	msg := map[string]any{
		"type":      "image",
		"width":     3,
		"height":    2,
		"timestamp": 1.5,
		"data": cbor.Tag{
			Number:  tagUint8,
			Content: []byte{1, 2, 3, 4, 5, 6},
		},
	}
	payload, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	frame, ok := decodeFrameMessage(payload)
	if !ok {
		t.Fatalf("decodeFrameMessage returned ok=false")
	}
	if frame.Width != 3 || frame.Height != 2 {
		t.Fatalf("unexpected dimensions: %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Pix) != 6 || frame.Pix[5] != 6 {
		t.Fatalf("unexpected pixels: %v", frame.Pix)
	}
	if frame.Timestamp.UnixNano() != 1500000000 {
		t.Fatalf("unexpected timestamp: %v", frame.Timestamp.UnixNano())
	}
}

func TestDecodeFrameMessageUint16Scaled(t *testing.T) {
	// 0xFF00 little-endian should scale to 0xFF.
	msg := map[string]any{
		"type":   "image",
		"width":  1,
		"height": 1,
		"data": cbor.Tag{
			Number:  tagUint16LE,
			Content: []byte{0x00, 0xFF},
		},
	}
	payload, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	frame, ok := decodeFrameMessage(payload)
	if !ok {
		t.Fatalf("decodeFrameMessage returned ok=false")
	}
	if frame.Pix[0] != 0xFF {
		t.Fatalf("unexpected scaled pixel: %d", frame.Pix[0])
	}
}

func TestDecodeFrameMessageRejectsShape(t *testing.T) {
	msg := map[string]any{
		"type":   "image",
		"width":  4,
		"height": 4,
		"data":   []byte{1, 2, 3},
	}
	payload, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if _, ok := decodeFrameMessage(payload); ok {
		t.Fatalf("expected shape mismatch to be rejected")
	}
}

func TestDecodeFrameMessageIgnoresMeta(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{"type": "start"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if _, ok := decodeFrameMessage(payload); ok {
		t.Fatalf("expected non-image message to be skipped")
	}
}
