package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Command channel framing: [4B sealed length big-endian][sealed bytes]
const MessageHeaderSize = 4

// MaxMessageSize bounds one sealed command or response.
const MaxMessageSize = 16 * 1024 * 1024

// Sealer is the authenticated cipher a Channel applies to every message.
type Sealer interface {
	Seal(plaintext []byte) []byte
	Unseal(ciphertext []byte) ([]byte, error)
}

// Channel is a sealed, length-prefixed message stream over a connection.
// Writes are serialised; reads are expected from a single goroutine.
type Channel struct {
	conn   net.Conn
	sealer Sealer
	wmu    sync.Mutex
}

// NewChannel wraps conn. The handshake that produced sealer must already
// have completed.
func NewChannel(conn net.Conn, sealer Sealer) *Channel {
	return &Channel{conn: conn, sealer: sealer}
}

// WriteMessage seals plaintext and writes it with its length prefix.
func (c *Channel) WriteMessage(plaintext []byte) error {
	sealed := c.sealer.Seal(plaintext)
	if len(sealed) > MaxMessageSize {
		return fmt.Errorf("%w: message %d bytes exceeds limit", ErrProtocol, len(sealed))
	}
	buf := make([]byte, MessageHeaderSize+len(sealed))
	binary.BigEndian.PutUint32(buf[:MessageHeaderSize], uint32(len(sealed)))
	copy(buf[MessageHeaderSize:], sealed)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("%w: write message: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message and unseals it.
func (c *Channel) ReadMessage() ([]byte, error) {
	var hdr [MessageHeaderSize]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read message header: %v", ErrConnectionLost, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: message %d bytes exceeds limit", ErrProtocol, n)
	}
	sealed := make([]byte, n)
	if _, err := io.ReadFull(c.conn, sealed); err != nil {
		return nil, fmt.Errorf("%w: read message body: %v", ErrConnectionLost, err)
	}
	return c.sealer.Unseal(sealed)
}

// SendCommand encodes and writes a command.
func (c *Channel) SendCommand(cmd Command) error {
	b, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.WriteMessage(b)
}

// ReceiveCommand reads and decodes a command.
func (c *Channel) ReceiveCommand() (Command, error) {
	b, err := c.ReadMessage()
	if err != nil {
		return Command{}, err
	}
	return DecodeCommand(b)
}

// SendResponse encodes and writes a response.
func (c *Channel) SendResponse(r Response) error {
	b, err := EncodeResponse(r)
	if err != nil {
		return err
	}
	return c.WriteMessage(b)
}

// ReceiveResponse reads and decodes a response.
func (c *Channel) ReceiveResponse() (Response, error) {
	b, err := c.ReadMessage()
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(b)
}

// SetDeadline bounds the next reads and writes. A zero time clears it.
func (c *Channel) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// LocalAddr returns the local network address.
func (c *Channel) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer's network address.
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }
