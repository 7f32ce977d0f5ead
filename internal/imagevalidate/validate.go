// Package imagevalidate enforces byte-exact constraints on skin image
// size, content type, and geometry, and infers the model variant from
// arm-region transparency.
package imagevalidate

import (
	"bytes"
	"image"
	_ "image/png"
	"net/http"

	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
)

const (
	minBytes = 100
	maxBytes = 20_000

	wantWidth = 64
)

// alphaRect is the rectangle inspected for variant inference when
// height == 64: x in [54,56), y in [20,32) — 12 rows x 2 cols.
var alphaRect = image.Rect(54, 20, 56, 32)

// Options configures the validator's behavior around variant inference.
type Options struct {
	Variant model.Variant
}

// Validate enforces the size, content-type, and dimension guards, then
// infers the variant when Options.Variant is model.VariantUnknown.
func Validate(raw []byte, opts Options) (model.ValidatedImage, error) {
	if len(raw) < minBytes || len(raw) > maxBytes {
		return model.ValidatedImage{}, errs.Newf(errs.KindInvalidImage,
			"image size %d bytes out of range [%d,%d]", len(raw), minBytes, maxBytes)
	}

	mime := http.DetectContentType(raw)
	if mime != "image/png" {
		return model.ValidatedImage{}, errs.Newf(errs.KindInvalidImage,
			"unsupported content type %q, want image/png", mime)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return model.ValidatedImage{}, errs.New(errs.KindInvalidImage, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width != wantWidth || (height != 32 && height != 64) {
		return model.ValidatedImage{}, errs.Newf(errs.KindInvalidImage,
			"invalid dimensions %dx%d, want 64x32 or 64x64", width, height)
	}

	variant := opts.Variant
	if variant == model.VariantUnknown {
		variant = inferVariant(img, height)
	}

	return model.ValidatedImage{
		Bytes:   raw,
		MIME:    mime,
		Width:   width,
		Height:  height,
		Variant: variant,
	}, nil
}

// inferVariant applies the arm-region transparency rule.
func inferVariant(img image.Image, height int) model.Variant {
	if height == 32 {
		return model.VariantClassic
	}

	for y := alphaRect.Min.Y; y < alphaRect.Max.Y; y++ {
		for x := alphaRect.Min.X; x < alphaRect.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			// RGBA() returns alpha premultiplied into [0,65535]; 255 fully
			// opaque in 8-bit terms is 65535 here.
			if a != 0xffff {
				return model.VariantSlim
			}
		}
	}
	return model.VariantClassic
}
