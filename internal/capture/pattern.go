package capture

import (
	"image"
	"sync"
)

const (
	// PatternWidth and PatternHeight define the generated test image size.
	PatternWidth  = 800
	PatternHeight = 600
)

// PatternGrabber renders a gradient with a grid and a dot that advances
// one step per grab. It stands in for a real display on headless hosts.
type PatternGrabber struct {
	Width, Height int
	// Still keeps the dot in place so consecutive grabs are identical.
	Still bool

	mu   sync.Mutex
	tick int
}

// Grab renders the next pattern image.
// Writes go straight to the pixel buffer; img.Set per pixel is far slower.
func (g *PatternGrabber) Grab() (*image.NRGBA, error) {
	g.mu.Lock()
	tick := g.tick
	if !g.Still {
		g.tick++
	}
	g.mu.Unlock()

	width, height := g.Width, g.Height
	if width <= 0 || height <= 0 {
		width, height = PatternWidth, PatternHeight
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	stride := img.Stride

	// Gradient background
	for y := 0; y < height; y++ {
		gr := uint8(50 + (y * 100 / height))
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i+0] = uint8(50 + (x * 100 / width))
			pix[i+1] = gr
			pix[i+2] = 100
			pix[i+3] = 255
		}
	}

	// Grid lines
	for x := 0; x < width; x += 50 {
		for y := 0; y < height; y++ {
			i := y*stride + x*4
			pix[i], pix[i+1], pix[i+2] = 200, 200, 200
		}
	}
	for y := 0; y < height; y += 50 {
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i], pix[i+1], pix[i+2] = 200, 200, 200
		}
	}

	// Moving dot
	cx := (tick * 8) % width
	for dy := -5; dy <= 5; dy++ {
		for dx := -5; dx <= 5; dx++ {
			if dx*dx+dy*dy > 25 {
				continue
			}
			px, py := cx+dx, height/2+dy
			if px >= 0 && px < width && py >= 0 && py < height {
				i := py*stride + px*4
				pix[i], pix[i+1], pix[i+2] = 255, 100, 100
			}
		}
	}

	return img, nil
}
