package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestHash_Deterministic(t *testing.T) {
	t.Parallel()
	raw := encodePNG(t, checkerboard(64, 64))

	a, err := Hash(raw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := Hash(raw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a != b {
		t.Fatalf("Hash not deterministic: %s != %s", a, b)
	}
	if len(a) < 30 {
		t.Fatalf("Hash length %d below 30-char floor", len(a))
	}
}

func TestHash_DifferentPixelsDiffer(t *testing.T) {
	t.Parallel()
	raw1 := encodePNG(t, checkerboard(64, 64))

	solid := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			solid.Set(x, y, color.White)
		}
	}
	raw2 := encodePNG(t, solid)

	h1, err := Hash(raw1)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(raw2)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("distinct pixel content hashed identically")
	}
}

func TestHash_InvariantUnderReencode(t *testing.T) {
	t.Parallel()
	img := checkerboard(64, 32)
	raw1 := encodePNG(t, img)

	// Re-mux through a fresh PNG encode/decode of the same pixels; this
	// simulates a different encoder producing different chunk layout
	// for identical pixel content.
	decoded, _, err := image.Decode(bytes.NewReader(raw1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw2 := encodePNG(t, decoded)

	h1, err := Hash(raw1)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(raw2)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed across re-encode of identical pixels: %s != %s", h1, h2)
	}
}

func TestHash_InvalidBytes(t *testing.T) {
	t.Parallel()
	if _, err := Hash([]byte("not an image")); err == nil {
		t.Fatalf("want error for non-image bytes")
	}
}
