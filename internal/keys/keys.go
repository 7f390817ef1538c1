// Package keys provides the Ed25519 primitives the gateway uses for
// identity, attestation checks and challenge nonces. Keys and signatures
// travel as standard base64; nonces as lowercase hex.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NonceSize is the number of random bytes in a challenge nonce.
const NonceSize = 32

// Keypair holds an Ed25519 keypair. The private half never leaves the
// process; only the public half is sent to clients.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// FromSeed reconstructs a keypair from a raw Ed25519 seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Seed returns the raw private seed for persistence.
func (k *Keypair) Seed() []byte {
	return k.Private.Seed()
}

// Sign signs msg and returns the signature in standard base64.
func (k *Keypair) Sign(msg []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.Private, msg))
}

// PublicBase64 returns the public key in standard base64.
func (k *Keypair) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

// Verify reports whether sigB64 is a valid signature of msg under
// pubB64. Malformed base64 or wrong-length material yields false; it
// never panics into the caller. The underlying ed25519.Verify runs in
// constant time with respect to the signature.
func Verify(pubB64 string, msg []byte, sigB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// NewNonce returns NonceSize random bytes encoded as lowercase hex.
func NewNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DecodeNonce converts a challenge nonce back to the raw bytes clients
// sign.
func DecodeNonce(nonce string) ([]byte, error) {
	b, err := hex.DecodeString(nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(b) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(b))
	}
	return b, nil
}
