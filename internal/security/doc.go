// Package security provides the cryptographic layers of the command channel:
//
//   - Session key delivery and the sealed message envelope
//     (HKDF-SHA-512 directional keys, XChaCha20-Poly1305)
//   - Agent identity keypair (Ed25519) used to sign session keys
//   - Optional TLS 1.3 wrapping of the raw sockets (self-signed ECDSA P-384,
//     user-provided certificates, or ACME)
//
// # Layering
//
// TLS, when enabled, authenticates the agent and protects the key
// delivery. The envelope is applied on top regardless, so a channel stays
// authenticated per message even when TLS is off.
//
// Go 1.23+ TLS 1.3 negotiates the X25519+ML-KEM-768 hybrid key exchange
// automatically with compatible peers.
package security
