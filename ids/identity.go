package ids

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// KeyPair is a long-term ed25519 signing identity. It is the sole source
// of truth for an Address: the address is derived, never stored
// independently, so the two can never drift apart (spec §3, Address
// invariant).
type KeyPair struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random signing identity.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ids: generate key: %w", err)
	}
	return &KeyPair{Public: pub, private: priv}, nil
}

// Address derives this identity's wallet address.
func (k *KeyPair) Address() (Address, error) {
	return DeriveAddress(k.Public)
}

// Sign signs msg with the long-term private key.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify checks sig against msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
