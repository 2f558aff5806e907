package protocol

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Error kinds shared by both ends of the command and frame channels.
// Callers classify failures with errors.Is, never by message text.
var (
	// ErrConnectionLost reports a transport failure: a reset, a timeout or
	// a stream that ended before a message was complete.
	ErrConnectionLost = errors.New("connection lost")

	// ErrAuthentication reports a ciphertext that failed to open. The
	// connection carrying it must be dropped without retry.
	ErrAuthentication = errors.New("authentication failed")

	// ErrProtocol reports a malformed command, response or frame header.
	ErrProtocol = errors.New("protocol violation")
)

// IsTransient reports whether err is a transport failure that a
// reconnecting client should back off from and retry. Authentication and
// protocol errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrProtocol) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
