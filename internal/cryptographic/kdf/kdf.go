package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

// ChannelSeed hashes a channel id and a domain salt into a key seed.
func ChannelSeed(channel []byte, salt string) [32]byte {
	input := make([]byte, 0, len(channel)+len(salt))
	input = append(input, channel...)
	input = append(input, salt...)
	return sha256.Sum256(input)
}

// MessageKey expands the shared secret into a KeySize key followed by
// nonceSize bytes of AEAD nonce. The per-message nonce is the HKDF salt.
func MessageKey(shared, salt []byte, info string, nonceSize int) (key, nonce []byte, err error) {
	buffer := make([]byte, KeySize+nonceSize)
	h := hkdf.New(sha256.New, shared, salt, []byte(info))
	if _, err := io.ReadFull(h, buffer); err != nil {
		return nil, nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return buffer[:KeySize], buffer[KeySize:], nil
}
