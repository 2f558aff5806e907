package capture

import (
	"fmt"
	"image"

	"github.com/avaropoint/mcc/internal/protocol"
)

// Strategy turns the next screen image into a frame, given the reference
// the viewer already holds, and reverses that on the viewer side.
type Strategy interface {
	// Encode produces the frame for cur. ref is nil before the first frame.
	Encode(ref, cur *image.NRGBA) (protocol.Frame, error)
	// Decode rebuilds the image carried by f on top of ref.
	Decode(ref *image.NRGBA, f protocol.Frame) (*image.NRGBA, error)
}

// NewStrategy picks XOR diffs for lossless codecs and full frames
// otherwise.
func NewStrategy(codec Codec) Strategy {
	if codec.Lossless() {
		return XORStrategy{Codec: codec}
	}
	return FullStrategy{Codec: codec}
}

// FullStrategy always sends complete images.
type FullStrategy struct {
	Codec Codec
}

func (s FullStrategy) Encode(_, cur *image.NRGBA) (protocol.Frame, error) {
	data, err := s.Codec.Encode(cur)
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Frame{Kind: protocol.FrameFull, Payload: data}, nil
}

func (s FullStrategy) Decode(_ *image.NRGBA, f protocol.Frame) (*image.NRGBA, error) {
	if f.Kind != protocol.FrameFull {
		return nil, fmt.Errorf("%w: %s frame from full-only stream", protocol.ErrProtocol, f.Kind)
	}
	img, err := s.Codec.Decode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", protocol.ErrProtocol, err)
	}
	return img, nil
}

// XORStrategy encodes both the full image and its byte-wise XOR against
// the reference, and sends whichever payload is smaller. Unchanged pixels
// XOR to zero and compress well.
type XORStrategy struct {
	Codec Codec
}

func (s XORStrategy) Encode(ref, cur *image.NRGBA) (protocol.Frame, error) {
	full, err := s.Codec.Encode(cur)
	if err != nil {
		return protocol.Frame{}, err
	}
	if ref == nil || ref.Rect != cur.Rect {
		return protocol.Frame{Kind: protocol.FrameFull, Payload: full}, nil
	}

	delta, err := XOR(ref, cur)
	if err != nil {
		return protocol.Frame{Kind: protocol.FrameFull, Payload: full}, nil
	}
	diff, err := s.Codec.Encode(delta)
	if err != nil || len(diff) >= len(full) {
		return protocol.Frame{Kind: protocol.FrameFull, Payload: full}, nil
	}
	return protocol.Frame{Kind: protocol.FrameDiff, Payload: diff}, nil
}

func (s XORStrategy) Decode(ref *image.NRGBA, f protocol.Frame) (*image.NRGBA, error) {
	img, err := s.Codec.Decode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", protocol.ErrProtocol, err)
	}
	if f.Kind == protocol.FrameFull {
		return img, nil
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: diff frame without reference", protocol.ErrProtocol)
	}
	out, err := XOR(ref, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
	}
	return out, nil
}

// XOR combines the pixel bytes of two same-sized images. The operation is
// self-inverse: XOR(a, XOR(a, b)) == b.
func XOR(a, b *image.NRGBA) (*image.NRGBA, error) {
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return nil, fmt.Errorf("image size mismatch: %v vs %v", a.Rect.Size(), b.Rect.Size())
	}
	out := image.NewNRGBA(b.Rect)
	w := b.Rect.Dx() * 4
	for y := 0; y < b.Rect.Dy(); y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		ro := out.Pix[y*out.Stride : y*out.Stride+w]
		for i := range ro {
			ro[i] = ra[i] ^ rb[i]
		}
	}
	return out, nil
}
