package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSeedDeterministic(t *testing.T) {
	a := ChannelSeed([]byte{1, 2, 3}, "salt")
	assert.Equal(t, a, ChannelSeed([]byte{1, 2, 3}, "salt"))
	assert.NotEqual(t, a, ChannelSeed([]byte{1, 2, 3}, "other"))
	assert.NotEqual(t, a, ChannelSeed([]byte{1, 2, 4}, "salt"))
}

func TestMessageKeySplitsOutput(t *testing.T) {
	shared := make([]byte, 32)
	key, nonce, err := MessageKey(shared, []byte("nonce-a"), "info", 12)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
	assert.Len(t, nonce, 12)

	key2, _, err := MessageKey(shared, []byte("nonce-b"), "info", 12)
	require.NoError(t, err)
	assert.NotEqual(t, key, key2)
}
