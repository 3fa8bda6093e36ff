package codec

import (
	"encoding/base64"
	"shieldchat/internal/model"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *model.RawEvent {
	var hash [32]byte
	for i := range hash {
		hash[i] = byte(i)
	}
	return &model.RawEvent{
		Channel:        solana.PublicKey{1, 2, 3},
		Sender:         solana.PublicKey{9, 8, 7},
		MessageHash:    hash,
		ContentRef:     "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		SequenceNumber: 42,
		OccurredAt:     1717171717,
	}
}

func TestDecodeEventRoundTrip(t *testing.T) {
	ev := testEvent()

	got, err := DecodeEvent(EncodeEvent(ev))
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeEventRoundTripNegativeTimestamp(t *testing.T) {
	ev := testEvent()
	ev.OccurredAt = -5
	ev.SequenceNumber = ^uint64(0)

	got, err := DecodeEvent(EncodeEvent(ev))
	require.NoError(t, err)
	assert.Equal(t, int64(-5), got.OccurredAt)
	assert.Equal(t, ^uint64(0), got.SequenceNumber)
}

func TestDecodeEventTruncated(t *testing.T) {
	data := EncodeEvent(testEvent())
	for n := 0; n < len(data); n++ {
		_, err := DecodeEvent(data[:n])
		require.Error(t, err, "prefix of %d bytes", n)
	}
}

func TestDecodeEventLengthBeyondBuffer(t *testing.T) {
	data := EncodeEvent(testEvent())
	// length field sits after discriminator and three 32-byte fields
	off := DiscriminatorLen + 32*3
	data[off], data[off+1], data[off+2], data[off+3] = 0xff, 0xff, 0xff, 0x7f

	_, err := DecodeEvent(data)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeEventFromLogs(t *testing.T) {
	ev := testEvent()
	logs := []string{
		"Program FVViRGPShMjCeSF3LDrp2qDjp6anRz9WAMiJrsGCRUzN invoke [1]",
		"Program log: Instruction: LogMessage",
		"Program data: !!!not-base64!!!",
		ProgramDataLog([]byte{1, 2, 3}),
		ProgramDataLog(EncodeEvent(ev)),
		"Program log: Message logged: #42",
	}

	got, ok := DecodeEventFromLogs(logs)
	require.True(t, ok)
	assert.Equal(t, ev.ContentRef, got.ContentRef)
	assert.Equal(t, ev.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, ev.OccurredAt, got.OccurredAt)
}

func TestDecodeEventFromLogsForeignDiscriminator(t *testing.T) {
	data := EncodeEvent(testEvent())
	copy(data[:DiscriminatorLen], []byte{0xde, 0xad, 0xbe, 0xef, 0, 1, 2, 3})

	assert.NotPanics(t, func() {
		got, ok := DecodeEventFromLogs([]string{ProgramDataLog(data)})
		assert.False(t, ok)
		assert.Nil(t, got)
	})
}

func TestDecodeEventFromLogsEmpty(t *testing.T) {
	_, ok := DecodeEventFromLogs(nil)
	assert.False(t, ok)

	_, ok = DecodeEventFromLogs([]string{"Program data: " + base64.StdEncoding.EncodeToString(nil)})
	assert.False(t, ok)
}

func TestSequenceFromLogs(t *testing.T) {
	n, ok := SequenceFromLogs([]string{"Program log: Instruction: LogMessage", "Program log: Message logged: #17"})
	require.True(t, ok)
	assert.Equal(t, uint64(17), n)

	_, ok = SequenceFromLogs([]string{"Program log: Channel created: ID 4"})
	assert.False(t, ok)
}

func TestDiscriminatorsDiffer(t *testing.T) {
	assert.NotEqual(t, EventDiscriminator, LogMessageDiscriminator)
}

func FuzzDecodeEvent(f *testing.F) {
	f.Add(EncodeEvent(testEvent()))
	f.Add([]byte{})
	f.Add(EventDiscriminator[:])
	f.Fuzz(func(t *testing.T, data []byte) {
		ev, err := DecodeEvent(data)
		if err == nil {
			again, err := DecodeEvent(EncodeEvent(ev))
			if err != nil || again.ContentRef != ev.ContentRef {
				t.Fatalf("re-encode mismatch: %v", err)
			}
		}
		_, _ = DecodeEventFromLogs([]string{ProgramDataLog(data)})
	})
}
