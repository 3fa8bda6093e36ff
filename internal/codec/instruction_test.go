package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

func TestContentRefFromInstruction(t *testing.T) {
	data := EncodeLogMessageInstruction(MessageHash([]byte("blob")), testCID)

	ref, ok := ContentRefFromInstruction(data)
	require.True(t, ok)
	assert.Equal(t, testCID, ref)
}

func TestContentRefFromInstructionShort(t *testing.T) {
	data := EncodeLogMessageInstruction([32]byte{}, testCID)
	for n := 0; n < MinInstructionLen; n++ {
		assert.NotPanics(t, func() {
			_, ok := ContentRefFromInstruction(data[:n])
			assert.False(t, ok, "len %d", n)
		})
	}
}

func TestContentRefFromInstructionBounds(t *testing.T) {
	zero := EncodeLogMessageInstruction([32]byte{}, "")
	_, ok := ContentRefFromInstruction(zero)
	assert.False(t, ok)

	long := EncodeLogMessageInstruction([32]byte{}, "Qm"+strings.Repeat("x", MaxContentRefLen))
	_, ok = ContentRefFromInstruction(long)
	assert.False(t, ok)

	exact := EncodeLogMessageInstruction([32]byte{}, "Qm"+strings.Repeat("x", MaxContentRefLen-2))
	_, ok = ContentRefFromInstruction(exact)
	assert.True(t, ok)

	// declared length runs past the buffer
	cut := exact[:len(exact)-1]
	_, ok = ContentRefFromInstruction(cut)
	assert.False(t, ok)
}

func TestContentRefFromInstructionForeignPayload(t *testing.T) {
	// e.g. a compute budget or memo instruction sharing the transaction
	data := EncodeLogMessageInstruction([32]byte{}, "hello world, not a cid")
	_, ok := ContentRefFromInstruction(data)
	assert.False(t, ok)
}

func TestIsContentRef(t *testing.T) {
	assert.True(t, IsContentRef("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"))
	assert.True(t, IsContentRef(testCID))
	assert.True(t, IsContentRef(InlineRefPrefix+"eyJ2IjoxfQ"))
	assert.False(t, IsContentRef("Qm"))
	assert.False(t, IsContentRef(""))
	assert.False(t, IsContentRef("ipfs://Qm123"))
}

func FuzzContentRefFromInstruction(f *testing.F) {
	f.Add(EncodeLogMessageInstruction([32]byte{}, testCID))
	f.Add(make([]byte, MinInstructionLen))
	f.Fuzz(func(t *testing.T, data []byte) {
		ref, ok := ContentRefFromInstruction(data)
		if ok && (len(ref) == 0 || len(ref) > MaxContentRefLen) {
			t.Fatalf("accepted out of range reference of %d bytes", len(ref))
		}
	})
}
