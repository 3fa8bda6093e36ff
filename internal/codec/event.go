package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"shieldchat/internal/model"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

const (
	// ProgramDataPrefix marks event payloads in transaction logs.
	ProgramDataPrefix = "Program data: "

	DiscriminatorLen = 8
)

var (
	EventDiscriminator      = anchorDiscriminator("event", "MessageLogged")
	LogMessageDiscriminator = anchorDiscriminator("global", "log_message")

	messageLoggedPattern = regexp.MustCompile(`Message logged: #(\d+)`)
)

func anchorDiscriminator(namespace, name string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

// DecodeEvent decodes one MessageLogged record, discriminator included.
func DecodeEvent(data []byte) (*model.RawEvent, error) {
	r := newReader(data)

	disc, err := r.bytes(DiscriminatorLen)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(disc, EventDiscriminator[:]) {
		return nil, ErrDiscriminator
	}

	var ev model.RawEvent
	channel, err := r.fixed32()
	if err != nil {
		return nil, err
	}
	sender, err := r.fixed32()
	if err != nil {
		return nil, err
	}
	if ev.MessageHash, err = r.fixed32(); err != nil {
		return nil, err
	}
	ref, err := r.lenPrefixed()
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(ref) {
		return nil, ErrInvalidString
	}
	if ev.SequenceNumber, err = r.u64(); err != nil {
		return nil, err
	}
	if ev.OccurredAt, err = r.i64(); err != nil {
		return nil, err
	}

	ev.Channel = solana.PublicKey(channel)
	ev.Sender = solana.PublicKey(sender)
	ev.ContentRef = string(ref)
	return &ev, nil
}

// DecodeEventFromLogs returns the first MessageLogged event found in the
// "Program data" lines. Foreign or malformed lines are skipped.
func DecodeEventFromLogs(logs []string) (*model.RawEvent, bool) {
	for _, line := range logs {
		payload, ok := strings.CutPrefix(line, ProgramDataPrefix)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			continue
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			continue
		}
		return ev, true
	}
	return nil, false
}

// SequenceFromLogs reads the message number from the program's textual
// "Message logged: #N" line.
func SequenceFromLogs(logs []string) (uint64, bool) {
	for _, line := range logs {
		m := messageLoggedPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// EncodeEvent is the inverse of DecodeEvent.
func EncodeEvent(ev *model.RawEvent) []byte {
	w := &writer{}
	w.raw(EventDiscriminator[:]).
		raw(ev.Channel[:]).
		raw(ev.Sender[:]).
		raw(ev.MessageHash[:]).
		lenPrefixed([]byte(ev.ContentRef)).
		u64(ev.SequenceNumber).
		u64(uint64(ev.OccurredAt))
	return w.buf
}

// ProgramDataLog formats a record the way the runtime logs emitted events.
func ProgramDataLog(data []byte) string {
	return ProgramDataPrefix + base64.StdEncoding.EncodeToString(data)
}
