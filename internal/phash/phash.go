// Package phash computes a perceptual hash over validated image bytes.
// The algorithm is a difference-hash over a downscaled grayscale
// rendering: deterministic for identical pixel content and invariant
// under encoder re-muxing of the same pixels.
package phash

import (
	"bytes"
	"encoding/hex"
	"image"
	_ "image/png"

	"golang.org/x/image/draw"
)

// gridW/gridH chosen so the resulting bitstring is comfortably over the
// catalog's 30-hex-character floor: (gridW-1)*gridH bits of
// horizontal hash plus gridW*(gridH-1) bits of vertical hash, packed to
// bytes and hex-encoded, yields 128 hex characters.
const (
	gridW = 17
	gridH = 16
)

// Hash returns a lowercase hex string derived from the pixel content of
// an already-validated image buffer. No animation frames are considered;
// only the first/primary frame decoded by image.Decode is hashed.
func Hash(raw []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	small := image.NewGray(image.Rect(0, 0, gridW, gridH))
	draw.CatmullRom.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	bits := make([]bool, 0, (gridW-1)*gridH+gridW*(gridH-1))

	// Horizontal gradient: each row, compare adjacent pixels.
	for y := 0; y < gridH; y++ {
		for x := 0; x < gridW-1; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			bits = append(bits, left > right)
		}
	}
	// Vertical gradient: each column, compare adjacent pixels.
	for x := 0; x < gridW; x++ {
		for y := 0; y < gridH-1; y++ {
			top := small.GrayAt(x, y).Y
			bottom := small.GrayAt(x, y+1).Y
			bits = append(bits, top > bottom)
		}
	}

	return hex.EncodeToString(packBits(bits)), nil
}

// packBits packs a slice of booleans into bytes, MSB first, zero-padding
// the final byte when len(bits) is not a multiple of 8.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}
