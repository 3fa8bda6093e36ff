package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	// Kind discriminates the decrypted content payload.
	Kind string

	Attachment struct {
		Ref      string `json:"ref" bson:"ref"`
		Name     string `json:"name,omitempty" bson:"name,omitempty"`
		MimeType string `json:"mimeType,omitempty" bson:"mimeType,omitempty"`
		Size     int64  `json:"size,omitempty" bson:"size,omitempty"`
	}

	// ContentPayload is the plaintext sealed inside an envelope.
	ContentPayload struct {
		Kind       Kind        `json:"kind"`
		Text       string      `json:"text"`
		Attachment *Attachment `json:"attachment,omitempty"`
		PollID     string      `json:"pollId,omitempty"`
		GameID     string      `json:"gameId,omitempty"`
		GameType   string      `json:"gameType,omitempty"`
	}

	Message struct {
		ID              string      `json:"id"`
		Channel         string      `json:"channel"`
		Sender          string      `json:"sender"`
		Content         string      `json:"content"`
		Kind            Kind        `json:"kind"`
		Timestamp       time.Time   `json:"timestamp"`
		SourceSignature string      `json:"sourceSignature,omitempty"`
		SequenceNumber  uint64      `json:"sequenceNumber,omitempty"`
		ContentRef      string      `json:"contentRef,omitempty"`
		Attachment      *Attachment `json:"attachments,omitempty"`
		PollID          string      `json:"pollId,omitempty"`
		GameID          string      `json:"gameId,omitempty"`
		GameType        string      `json:"gameType,omitempty"`
	}
)

const (
	KindText       Kind = "text"
	KindAttachment Kind = "attachment"
	KindPoll       Kind = "poll"
	KindGame       Kind = "game"
)

// DecryptionFailedContent is displayed in place of a body that could not be opened.
const DecryptionFailedContent = "[decryption failed]"

// Local ids never collide with confirmed ids, which are "<signature>:<sequence>".
const localIDPrefix = "local-"

func ConfirmedID(signature string, sequence uint64) string {
	return fmt.Sprintf("%s:%d", signature, sequence)
}

func LocalID(token string) string {
	return localIDPrefix + token
}

func (m *Message) IsOptimistic() bool {
	return m.SourceSignature == "" && strings.HasPrefix(m.ID, localIDPrefix)
}

// Apply copies the payload fields onto the message.
func (m *Message) Apply(p ContentPayload) {
	m.Kind = p.Kind
	m.Content = p.Text
	m.Attachment = p.Attachment
	m.PollID = p.PollID
	m.GameID = p.GameID
	m.GameType = p.GameType
}

// NewTextPayload builds the payload for a plain or attachment-bearing message.
func NewTextPayload(text string, attachment *Attachment) ContentPayload {
	if attachment != nil {
		return ContentPayload{Kind: KindAttachment, Text: text, Attachment: attachment}
	}
	return ContentPayload{Kind: KindText, Text: text}
}

// DecodePayload parses decrypted plaintext. Plaintext that is not a tagged
// payload is treated as a bare text message.
func DecodePayload(plain []byte) ContentPayload {
	var p ContentPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return ContentPayload{Kind: KindText, Text: string(plain)}
	}

	switch p.Kind {
	case KindText:
		return ContentPayload{Kind: KindText, Text: p.Text}
	case KindAttachment:
		if p.Attachment == nil || p.Attachment.Ref == "" {
			return ContentPayload{Kind: KindText, Text: p.Text}
		}
		return ContentPayload{Kind: KindAttachment, Text: p.Text, Attachment: p.Attachment}
	case KindPoll:
		return ContentPayload{Kind: KindPoll, Text: p.Text, PollID: p.PollID}
	case KindGame:
		return ContentPayload{Kind: KindGame, Text: p.Text, GameID: p.GameID, GameType: p.GameType}
	default:
		return ContentPayload{Kind: KindText, Text: string(plain)}
	}
}

func (p ContentPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
