package model

import "github.com/gagliardetto/solana-go"

type (
	// RawEvent is one decoded message record. Envelope-only decodes leave
	// Sender and OccurredAt to the caller.
	RawEvent struct {
		Channel        solana.PublicKey
		Sender         solana.PublicKey
		MessageHash    [32]byte
		ContentRef     string
		SequenceNumber uint64
		OccurredAt     int64
	}
)
