// Package capture grabs screen images, encodes them and decides whether
// each new image goes to the viewer as a full frame or as a diff against
// the previous one.
package capture

import (
	"errors"
	"image"
)

// ErrCapture reports a failed grab or encode. The engine skips the tick
// and tries again on the next one.
var ErrCapture = errors.New("capture failed")

// Grabber produces one screen image per call.
type Grabber interface {
	Grab() (*image.NRGBA, error)
}

// GrabberFunc adapts a function to the Grabber interface.
type GrabberFunc func() (*image.NRGBA, error)

func (f GrabberFunc) Grab() (*image.NRGBA, error) { return f() }

// cloneNRGBA returns a deep copy of img.
func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	if img == nil {
		return nil
	}
	out := &image.NRGBA{
		Pix:    make([]byte, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}

// samePixels reports whether a and b have identical bounds and bytes.
func samePixels(a, b *image.NRGBA) bool {
	if a == nil || b == nil || a.Rect != b.Rect || a.Stride != b.Stride {
		return false
	}
	if len(a.Pix) != len(b.Pix) {
		return false
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			return false
		}
	}
	return true
}
