package model

import "time"

type (
	// CachedRecord is what the cache stores per message: the sealed envelope
	// plus enough envelope metadata to rebuild the Message.
	CachedRecord struct {
		ID              string             `json:"id" bson:"_id"`
		Channel         string             `json:"channel" bson:"channel"`
		Sender          string             `json:"sender" bson:"sender"`
		ContentRef      string             `json:"contentRef" bson:"contentRef"`
		SourceSignature string             `json:"sourceSignature,omitempty" bson:"sourceSignature,omitempty"`
		SequenceNumber  uint64             `json:"sequenceNumber" bson:"sequenceNumber"`
		Timestamp       time.Time          `json:"timestamp" bson:"timestamp"`
		Envelope        *EncryptedEnvelope `json:"envelope" bson:"envelope"`
	}
)
