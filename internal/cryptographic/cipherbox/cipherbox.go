package cipherbox

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"shieldchat/internal/cryptographic/dh"
	"shieldchat/internal/cryptographic/encryption"
	"shieldchat/internal/cryptographic/kdf"
	"shieldchat/internal/model"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	NonceSize = 16

	channelKeySalt = "shieldchat/channel-key/v1"
	messageKeyInfo = "shieldchat/message/v1"
)

var (
	ErrUnsupportedVersion = errors.New("cipherbox: unsupported envelope version")
	ErrMalformed          = errors.New("cipherbox: malformed envelope")
	ErrDecrypt            = errors.New("cipherbox: decryption failed")
)

type (
	Keypair struct {
		Private [32]byte
		Public  [32]byte
	}

	Box struct {
		random io.Reader
		now    func() time.Time
	}
)

func New() *Box {
	return &Box{random: rand.Reader, now: time.Now}
}

// NewWithRandom is New with an explicit nonce source.
func NewWithRandom(r io.Reader) *Box {
	return &Box{random: r, now: time.Now}
}

// DeriveChannelKeypair is deterministic: every participant that knows the
// channel id derives the same pair.
func DeriveChannelKeypair(channel solana.PublicKey) (*Keypair, error) {
	priv, pub, err := dh.KeyPairFromSeed(kdf.ChannelSeed(channel[:], channelKeySalt))
	if err != nil {
		return nil, err
	}
	return &Keypair{Private: priv, Public: pub}, nil
}

func (b *Box) Encrypt(plaintext []byte, channel solana.PublicKey) (*model.EncryptedEnvelope, error) {
	kp, err := DeriveChannelKeypair(channel)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(b.random, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}

	shared, err := dh.X25519SharedSecret(kp.Private, kp.Public)
	if err != nil {
		return nil, err
	}
	key, gcmNonce, err := kdf.MessageKey(shared, nonce, messageKeyInfo, encryption.GCMNonceSize)
	if err != nil {
		return nil, err
	}

	ct, err := encryption.AEADSeal(key, gcmNonce, plaintext, channel[:])
	if err != nil {
		return nil, err
	}

	return &model.EncryptedEnvelope{
		Version:         model.EnvelopeV1,
		Ciphertext:      ct,
		Nonce:           nonce,
		SenderPublicKey: kp.Public[:],
		Channel:         channel.String(),
		CreatedAt:       b.now().UTC(),
	}, nil
}

// Decrypt fails with ErrUnsupportedVersion for any version it does not know,
// and with ErrMalformed or ErrDecrypt otherwise.
func (b *Box) Decrypt(env *model.EncryptedEnvelope, channel solana.PublicKey) ([]byte, error) {
	if env == nil {
		return nil, ErrMalformed
	}
	if env.Version != model.EnvelopeV1 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.Version)
	}
	if len(env.Nonce) != NonceSize || len(env.SenderPublicKey) != 32 {
		return nil, ErrMalformed
	}

	kp, err := DeriveChannelKeypair(channel)
	if err != nil {
		return nil, err
	}
	shared, err := dh.X25519SharedSecret(kp.Private, [32]byte(env.SenderPublicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	key, gcmNonce, err := kdf.MessageKey(shared, env.Nonce, messageKeyInfo, encryption.GCMNonceSize)
	if err != nil {
		return nil, err
	}

	plain, err := encryption.AEADOpen(key, gcmNonce, env.Ciphertext, channel[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}
