package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/avaropoint/mcc/internal/protocol"
)

// SessionKeySize is the length of the symmetric key delivered at handshake.
const SessionKeySize = 32

// Role selects which direction of the channel an Envelope seals.
type Role int

const (
	// RoleHost is the accepting side: it seals host->viewer traffic.
	RoleHost Role = iota
	// RoleViewer is the dialling side: it seals viewer->host traffic.
	RoleViewer
)

const (
	hostToViewerInfo = "mcc-envelope-v1 host->viewer"
	viewerToHostInfo = "mcc-envelope-v1 viewer->host"
)

// Envelope seals and opens opaque payloads with XChaCha20-Poly1305. Each
// direction uses its own HKDF-derived key; nonces are random and travel
// in front of the ciphertext:
//
//	[24B nonce][ciphertext + 16B tag]
type Envelope struct {
	seal cipher.AEAD
	open cipher.AEAD
}

// NewEnvelope derives the directional keys from a session key.
func NewEnvelope(key []byte, role Role) (*Envelope, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", SessionKeySize, len(key))
	}

	h2v, err := deriveAEAD(key, hostToViewerInfo)
	if err != nil {
		return nil, err
	}
	v2h, err := deriveAEAD(key, viewerToHostInfo)
	if err != nil {
		return nil, err
	}

	if role == RoleHost {
		return &Envelope{seal: h2v, open: v2h}, nil
	}
	return &Envelope{seal: v2h, open: h2v}, nil
}

func deriveAEAD(key []byte, info string) (cipher.AEAD, error) {
	sub := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha512.New, key, nil, []byte(info))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.NewX(sub)
}

// Seal encrypts and authenticates plaintext.
func (e *Envelope) Seal(plaintext []byte) []byte {
	ns := e.seal.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+e.seal.Overhead())
	if _, err := rand.Read(out); err != nil {
		panic(fmt.Sprintf("security: read nonce: %v", err))
	}
	return e.seal.Seal(out, out[:ns], plaintext, nil)
}

// Unseal verifies and decrypts a payload produced by the peer's Seal.
// Any failure wraps protocol.ErrAuthentication.
func (e *Envelope) Unseal(ciphertext []byte) ([]byte, error) {
	ns := e.open.NonceSize()
	if len(ciphertext) < ns+e.open.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", protocol.ErrAuthentication)
	}
	plain, err := e.open.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrAuthentication, err)
	}
	return plain, nil
}

// NewSessionKey returns a fresh random session key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
