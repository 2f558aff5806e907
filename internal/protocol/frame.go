package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameKind tags a screen frame as a complete image or a diff against the
// previous frame.
type FrameKind byte

const (
	FrameDiff FrameKind = 0
	FrameFull FrameKind = 1
)

func (k FrameKind) String() string {
	switch k {
	case FrameDiff:
		return "diff"
	case FrameFull:
		return "full"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Header: [1B kind][4B payload length big-endian]
const FrameHeaderSize = 5

// FrameChunkSize bounds a single read while collecting a payload.
const FrameChunkSize = 10240

// MaxFramePayload rejects headers that announce absurd lengths.
const MaxFramePayload = 64 * 1024 * 1024

// Frame is one encoded screen image on the frame channel.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// WriteFrame writes the header and payload with a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Kind != FrameDiff && f.Kind != FrameFull {
		return fmt.Errorf("%w: frame kind %d", ErrProtocol, f.Kind)
	}
	if len(f.Payload) > MaxFramePayload {
		return fmt.Errorf("%w: frame payload %d bytes", ErrProtocol, len(f.Payload))
	}
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write frame: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReadFrame reads one frame. The payload is collected in reads of at most
// FrameChunkSize bytes; a stream that ends or returns nothing before the
// announced length is reached yields ErrConnectionLost, never a short frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("%w: read frame header: %v", ErrConnectionLost, err)
	}

	kind := FrameKind(hdr[0])
	if kind != FrameDiff && kind != FrameFull {
		return Frame{}, fmt.Errorf("%w: frame kind %d", ErrProtocol, hdr[0])
	}
	length := binary.BigEndian.Uint32(hdr[1:5])
	if length > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: frame payload %d bytes", ErrProtocol, length)
	}

	payload := make([]byte, length)
	got := 0
	for got < int(length) {
		end := min(got+FrameChunkSize, int(length))
		n, err := r.Read(payload[got:end])
		got += n
		if got == int(length) {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, fmt.Errorf("%w: frame payload %d/%d bytes: %v", ErrConnectionLost, got, length, err)
		}
		if n == 0 {
			return Frame{}, fmt.Errorf("%w: frame payload %d/%d bytes: empty read", ErrConnectionLost, got, length)
		}
	}

	return Frame{Kind: kind, Payload: payload}, nil
}

// Platform identifiers sent by the viewer when the frame channel opens.
const (
	PlatformWindows = "win"
	PlatformMac     = "osx"
	PlatformX11     = "x11"
)

// PlatformSize is the fixed length of a platform identifier.
const PlatformSize = 3

// WritePlatform sends the 3-byte platform identifier.
func WritePlatform(w io.Writer, platform string) error {
	if !ValidPlatform(platform) {
		return fmt.Errorf("%w: platform %q", ErrProtocol, platform)
	}
	if _, err := w.Write([]byte(platform)); err != nil {
		return fmt.Errorf("%w: write platform: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReadPlatform reads and validates the 3-byte platform identifier.
func ReadPlatform(r io.Reader) (string, error) {
	var b [PlatformSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("%w: read platform: %v", ErrConnectionLost, err)
	}
	p := string(b[:])
	if !ValidPlatform(p) {
		return "", fmt.Errorf("%w: platform %q", ErrProtocol, p)
	}
	return p, nil
}

// ValidPlatform reports whether p is one of the known identifiers.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformWindows, PlatformMac, PlatformX11:
		return true
	}
	return false
}
