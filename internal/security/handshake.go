package security

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"net"

	"github.com/avaropoint/mcc/internal/protocol"
)

// handshakeVersion is the first byte of the key delivery message.
const handshakeVersion = 1

// Key delivery, written once by the accepting side:
//
//	[1B version][32B session key][32B Ed25519 public key][64B signature]
//
// The signature covers keyContext || session key.
const handshakeSize = 1 + SessionKeySize + ed25519.PublicKeySize + ed25519.SignatureSize

var keyContext = []byte("mcc-session-key-v1")

// Accept runs the responder side of the handshake on a freshly accepted
// connection: it generates a session key, delivers it signed by id and
// returns a sealed channel bound to that key.
func Accept(conn net.Conn, id *Identity) (*protocol.Channel, error) {
	key, err := NewSessionKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	msg := make([]byte, 0, handshakeSize)
	msg = append(msg, handshakeVersion)
	msg = append(msg, key...)
	msg = append(msg, id.PublicKey...)
	msg = append(msg, id.Sign(append(append([]byte{}, keyContext...), key...))...)

	if _, err := conn.Write(msg); err != nil {
		return nil, fmt.Errorf("%w: send session key: %v", protocol.ErrConnectionLost, err)
	}

	env, err := NewEnvelope(key, RoleHost)
	if err != nil {
		return nil, err
	}
	return protocol.NewChannel(conn, env), nil
}

// Open runs the initiator side of the handshake. It returns the sealed
// channel and the fingerprint of the host identity that signed the key.
func Open(conn net.Conn) (*protocol.Channel, string, error) {
	msg := make([]byte, handshakeSize)
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, "", fmt.Errorf("%w: read session key: %v", protocol.ErrConnectionLost, err)
	}
	if msg[0] != handshakeVersion {
		return nil, "", fmt.Errorf("%w: handshake version %d", protocol.ErrProtocol, msg[0])
	}

	off := 1
	key := msg[off : off+SessionKeySize]
	off += SessionKeySize
	pub := ed25519.PublicKey(msg[off : off+ed25519.PublicKeySize])
	off += ed25519.PublicKeySize
	sig := msg[off:]

	if !ed25519.Verify(pub, append(append([]byte{}, keyContext...), key...), sig) {
		return nil, "", fmt.Errorf("%w: session key signature", protocol.ErrAuthentication)
	}

	env, err := NewEnvelope(key, RoleViewer)
	if err != nil {
		return nil, "", err
	}
	return protocol.NewChannel(conn, env), Fingerprint(pub), nil
}
