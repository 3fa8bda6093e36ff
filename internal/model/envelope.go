package model

import "time"

type (
	EnvelopeVersion string

	// EncryptedEnvelope is the blob stored in the content store.
	EncryptedEnvelope struct {
		Version         EnvelopeVersion `json:"version" bson:"version"`
		Ciphertext      []byte          `json:"ciphertext" bson:"ciphertext"`
		Nonce           []byte          `json:"nonce" bson:"nonce"`
		SenderPublicKey []byte          `json:"senderPublicKey" bson:"senderPublicKey"`
		Channel         string          `json:"channel,omitempty" bson:"channel,omitempty"`
		CreatedAt       time.Time       `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	}
)

const EnvelopeV1 EnvelopeVersion = "v1"
