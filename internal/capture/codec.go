package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
)

// Codec turns screen images into frame payloads and back.
type Codec interface {
	Name() string
	Encode(img *image.NRGBA) ([]byte, error)
	Decode(data []byte) (*image.NRGBA, error)
	// Lossless reports whether Decode(Encode(img)) reproduces img
	// byte-for-byte. Diff frames are only produced by lossless codecs.
	Lossless() bool
}

// DefaultJPEGQuality is the JPEG compression level for lossy capture.
const DefaultJPEGQuality = 70

// NewCodec returns the codec registered under name.
func NewCodec(name string, quality int) (Codec, error) {
	switch name {
	case "", "png":
		return PNGCodec{}, nil
	case "jpeg", "jpg":
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		return JPEGCodec{Quality: quality}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// PNGCodec is the default lossless codec.
type PNGCodec struct{}

func (PNGCodec) Name() string   { return "png" }
func (PNGCodec) Lossless() bool { return true }

func (PNGCodec) Encode(img *image.NRGBA) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: png encode: %v", ErrCapture, err)
	}
	return buf.Bytes(), nil
}

func (PNGCodec) Decode(data []byte) (*image.NRGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return toNRGBA(img), nil
}

// JPEGCodec trades exactness for size. Frames from it are always sent
// full.
type JPEGCodec struct {
	Quality int
}

func (JPEGCodec) Name() string   { return "jpeg" }
func (JPEGCodec) Lossless() bool { return false }

func (c JPEGCodec) Encode(img *image.NRGBA) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(img.Pix) / 16)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.Quality}); err != nil {
		return nil, fmt.Errorf("%w: jpeg encode: %v", ErrCapture, err)
	}
	return buf.Bytes(), nil
}

func (JPEGCodec) Decode(data []byte) (*image.NRGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return toNRGBA(img), nil
}

// toNRGBA converts img without touching its bytes when it is already
// NRGBA, or RGBA and fully opaque (premultiplied and straight alpha agree
// there).
func toNRGBA(img image.Image) *image.NRGBA {
	switch m := img.(type) {
	case *image.NRGBA:
		return m
	case *image.RGBA:
		if m.Opaque() {
			return &image.NRGBA{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect}
		}
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
