package capture

import (
	"image"
	"math"
)

// Projection maps a point on a frame back onto the desktop. Frames can
// be downscaled and can come from a display whose bounds do not start at
// the desktop origin; a frame point p lands at Origin + p*Scale.
type Projection struct {
	Origin image.Point
	ScaleX float64
	ScaleY float64
}

// Projector is implemented by grabbers whose frames are not 1:1 with
// desktop coordinates.
type Projector interface {
	Projection() Projection
}

// projectionFor relates a captured display rectangle to the size of the
// frame produced from it.
func projectionFor(display image.Rectangle, frame image.Rectangle) Projection {
	p := Projection{Origin: display.Min, ScaleX: 1, ScaleY: 1}
	if frame.Dx() > 0 {
		p.ScaleX = float64(display.Dx()) / float64(frame.Dx())
	}
	if frame.Dy() > 0 {
		p.ScaleY = float64(display.Dy()) / float64(frame.Dy())
	}
	return p
}

// ScreenPoint converts frame coordinates to desktop coordinates. A zero
// scale counts as 1.
func (p Projection) ScreenPoint(x, y int) (int, int) {
	sx, sy := p.ScaleX, p.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	return p.Origin.X + int(math.Round(float64(x)*sx)), p.Origin.Y + int(math.Round(float64(y)*sy))
}
