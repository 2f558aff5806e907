package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is the agent's long-lived Ed25519 keypair. It signs every
// session key the agent hands out so a console can pin the host.
type Identity struct {
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

// Fingerprint returns the SHA-256 hex fingerprint of the public key.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.PublicKey)
}

// Fingerprint returns the SHA-256 hex fingerprint of an Ed25519 public key.
func Fingerprint(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:])
}

// Sign signs msg with the identity key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.privateKey, msg)
}

// NewIdentity generates an identity that is never written to disk.
func NewIdentity() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newIdentity(priv), nil
}

// LoadOrCreateIdentity loads the identity keypair from dataDir or
// generates and stores one.
func LoadOrCreateIdentity(dataDir string) (*Identity, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	keyPath := filepath.Join(dataDir, "identity.key")
	if fileExists(keyPath) {
		return loadIdentityKey(keyPath)
	}
	return generateIdentityKey(keyPath)
}

func loadIdentityKey(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("invalid identity key file")
	}
	if len(block.Bytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid identity key size")
	}

	return newIdentity(ed25519.NewKeyFromSeed(block.Bytes)), nil
}

func generateIdentityKey(path string) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	if err := writePEM(path, "PRIVATE KEY", priv.Seed(), 0600); err != nil {
		return nil, err
	}
	return newIdentity(priv), nil
}

func newIdentity(priv ed25519.PrivateKey) *Identity {
	return &Identity{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		privateKey: priv,
	}
}
