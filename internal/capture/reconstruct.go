package capture

import (
	"image"
	"sync"

	"github.com/avaropoint/mcc/internal/protocol"
)

// Reconstructor rebuilds the host's screen from a stream of frames on the
// viewer side.
type Reconstructor struct {
	strategy Strategy

	mu  sync.Mutex
	cur *image.NRGBA
}

// NewReconstructor returns a reconstructor that decodes with strategy.
func NewReconstructor(strategy Strategy) *Reconstructor {
	return &Reconstructor{strategy: strategy}
}

// Apply decodes f against the current image and makes the result current.
// On error the current image is left untouched.
func (r *Reconstructor) Apply(f protocol.Frame) (*image.NRGBA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, err := r.strategy.Decode(r.cur, f)
	if err != nil {
		return nil, err
	}
	r.cur = img
	return img, nil
}

// Current returns the last reconstructed image, or nil.
func (r *Reconstructor) Current() *image.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// Reset drops the current image; the next frame must be full.
func (r *Reconstructor) Reset() {
	r.mu.Lock()
	r.cur = nil
	r.mu.Unlock()
}
