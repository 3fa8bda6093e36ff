package dh

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPairFromSeed turns a 32-byte seed into an X25519 key pair. The seed is
// used as the private scalar; clamping happens inside X25519.
func KeyPairFromSeed(seed [32]byte) (priv, pub [32]byte, err error) {
	priv = seed
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], out)
	return priv, pub, nil
}

// Perform X25519 scalar multiplication: priv * pub
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}
