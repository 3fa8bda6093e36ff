package codec

import (
	"crypto/sha256"
	"strings"
)

const (
	MaxContentRefLen = 500

	messageHashLen = 32
	// discriminator + message hash + u32 length
	MinInstructionLen = DiscriminatorLen + messageHashLen + 4

	InlineRefPrefix = "inline:"
)

var contentRefPrefixes = []string{"Qm", "baf", InlineRefPrefix}

// ContentRefFromInstruction extracts the content reference from log_message
// instruction data. A false result means "not a message instruction".
func ContentRefFromInstruction(data []byte) (string, bool) {
	if len(data) < MinInstructionLen {
		return "", false
	}

	r := newReader(data)
	if err := r.skip(DiscriminatorLen + messageHashLen); err != nil {
		return "", false
	}
	n, err := r.u32()
	if err != nil || n == 0 || n > MaxContentRefLen {
		return "", false
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", false
	}

	ref := string(b)
	if !IsContentRef(ref) {
		return "", false
	}
	return ref, true
}

// IsContentRef is a soft check on the shape of a reference.
func IsContentRef(ref string) bool {
	if ref == "" || len(ref) > MaxContentRefLen {
		return false
	}
	for _, p := range contentRefPrefixes {
		if strings.HasPrefix(ref, p) && len(ref) > len(p) {
			return true
		}
	}
	return false
}

// EncodeLogMessageInstruction builds log_message instruction data.
func EncodeLogMessageInstruction(messageHash [32]byte, contentRef string) []byte {
	w := &writer{}
	w.raw(LogMessageDiscriminator[:]).
		raw(messageHash[:]).
		lenPrefixed([]byte(contentRef))
	return w.buf
}

// MessageHash is the digest recorded on-ledger next to the reference.
func MessageHash(blob []byte) [32]byte {
	return sha256.Sum256(blob)
}
