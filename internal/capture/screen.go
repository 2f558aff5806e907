package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"

	"github.com/avaropoint/mcc/internal/protocol"
)

// ScreenGrabber captures a physical display.
type ScreenGrabber struct {
	// Display is the zero-based display index.
	Display int
	// MaxWidth downscales wider captures, keeping the aspect ratio.
	// Zero keeps the native size.
	MaxWidth int

	mu   sync.Mutex
	proj Projection
}

// Grab captures the configured display.
func (g *ScreenGrabber) Grab() (*image.NRGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("%w: no active displays", ErrCapture)
	}
	if g.Display < 0 || g.Display >= n {
		return nil, fmt.Errorf("%w: display %d out of range (have %d)", ErrCapture, g.Display, n)
	}

	bounds := screenshot.GetDisplayBounds(g.Display)
	shot, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	img := opaqueNRGBA(shot)
	if g.MaxWidth > 0 && img.Rect.Dx() > g.MaxWidth {
		img = Downscale(img, g.MaxWidth)
	}

	g.mu.Lock()
	g.proj = projectionFor(bounds, img.Rect)
	g.mu.Unlock()
	return img, nil
}

// Projection reports how points on the last grabbed frame map onto the
// desktop. Before the first grab it is derived from the display bounds.
func (g *ScreenGrabber) Projection() Projection {
	g.mu.Lock()
	p := g.proj
	g.mu.Unlock()
	if p.ScaleX != 0 {
		return p
	}
	if g.Display < 0 || g.Display >= screenshot.NumActiveDisplays() {
		return Projection{ScaleX: 1, ScaleY: 1}
	}
	bounds := screenshot.GetDisplayBounds(g.Display)
	frame := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	if g.MaxWidth > 0 && frame.Dx() > g.MaxWidth {
		frame = image.Rect(0, 0, g.MaxWidth, max(frame.Dy()*g.MaxWidth/frame.Dx(), 1))
	}
	return projectionFor(bounds, frame)
}

// opaqueNRGBA rebases a screenshot to the origin and forces full alpha;
// some backends leave the alpha byte unset.
func opaqueNRGBA(src *image.RGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		d := out.Pix[y*out.Stride : y*out.Stride+w*4]
		copy(d, s)
		for i := 3; i < len(d); i += 4 {
			d[i] = 255
		}
	}
	return out
}

// Downscale resizes img to maxWidth, preserving the aspect ratio.
func Downscale(img *image.NRGBA, maxWidth int) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w <= maxWidth {
		return img
	}
	nh := max(h*maxWidth/w, 1)
	out := image.NewNRGBA(image.Rect(0, 0, maxWidth, nh))
	draw.ApproxBiLinear.Scale(out, out.Rect, img, img.Rect, draw.Src, nil)
	return out
}

// Displays lists the active displays.
func Displays() []protocol.DisplayInfo {
	n := screenshot.NumActiveDisplays()
	displays := make([]protocol.DisplayInfo, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		displays = append(displays, protocol.DisplayInfo{Index: i, Width: b.Dx(), Height: b.Dy()})
	}
	return displays
}
