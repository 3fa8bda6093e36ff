package ledger

import (
	"bytes"
	"context"
	"fmt"
	"shieldchat/internal/codec"
	"shieldchat/internal/metrics"
	"shieldchat/internal/model"
	"shieldchat/internal/utils/log"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSignatureLimit = 50
	DefaultBatchSize      = 5

	// log_message accounts: channel, member, sender
	senderAccountIndex = 2
)

type (
	// Event is a decoded message record anchored to the transaction that
	// carried it.
	Event struct {
		Signature string
		model.RawEvent
	}

	Source struct {
		rpc       RPC
		programID solana.PublicKey
		limit     int
		batchSize int
		metrics   *metrics.Metrics
	}
)

func NewSource(rpc RPC, programID solana.PublicKey, limit, batchSize int, m *metrics.Metrics) *Source {
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Source{
		rpc:       rpc,
		programID: programID,
		limit:     limit,
		batchSize: batchSize,
		metrics:   m,
	}
}

func (s *Source) BatchSize() int {
	return s.batchSize
}

// RecentEvents lists the channel account's recent transactions and decodes
// every message event among them. Only a failure to list signatures is an
// error; a transaction that fails to fetch or decode is skipped.
func (s *Source) RecentEvents(ctx context.Context, channel solana.PublicKey) ([]Event, error) {
	sigs, err := s.rpc.ListRecentSignatures(ctx, channel, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list signatures for %s: %w", channel, err)
	}

	results := make([]*Event, len(sigs))
	for start := 0; start < len(sigs); start += s.batchSize {
		end := min(start+s.batchSize, len(sigs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = s.fetchEvent(ctx, channel, sigs[i])
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	events := make([]Event, 0, len(results))
	for _, ev := range results {
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (s *Source) fetchEvent(ctx context.Context, channel solana.PublicKey, sig string) *Event {
	tx, err := s.rpc.GetTransaction(ctx, sig)
	if err != nil {
		log.Warn("skipping transaction: fetch failed", zap.String("signature", sig), zap.Error(err))
		s.metrics.Skipped(metrics.StageFetch)
		return nil
	}
	if tx == nil {
		s.metrics.Skipped(metrics.StageFetch)
		return nil
	}

	ev, ok := s.DecodeTransaction(tx, channel)
	if !ok {
		return nil
	}
	return ev
}

// DecodeTransaction prefers the emitted event. When the logs carry none it
// falls back to the program's own instruction data plus the textual
// "Message logged" line, taking sender and time from the envelope.
func (s *Source) DecodeTransaction(tx *Transaction, channel solana.PublicKey) (*Event, bool) {
	if ev, ok := codec.DecodeEventFromLogs(tx.Logs); ok {
		if !ev.Channel.Equals(channel) {
			return nil, false
		}
		return &Event{Signature: tx.Signature, RawEvent: *ev}, true
	}

	for _, ins := range tx.Instructions {
		if !ins.ProgramID.Equals(s.programID) {
			continue
		}
		if len(ins.Data) < codec.DiscriminatorLen || !bytes.Equal(ins.Data[:codec.DiscriminatorLen], codec.LogMessageDiscriminator[:]) {
			continue
		}
		if len(ins.Accounts) > 0 && !ins.Accounts[0].Equals(channel) {
			continue
		}
		ref, ok := codec.ContentRefFromInstruction(ins.Data)
		if !ok {
			s.metrics.Skipped(metrics.StageDecode)
			continue
		}

		ev := Event{
			Signature: tx.Signature,
			RawEvent: model.RawEvent{
				Channel:    channel,
				ContentRef: ref,
				OccurredAt: tx.BlockTime,
			},
		}
		copy(ev.MessageHash[:], ins.Data[codec.DiscriminatorLen:])
		ev.SequenceNumber, _ = codec.SequenceFromLogs(tx.Logs)
		switch {
		case len(ins.Accounts) > senderAccountIndex:
			ev.Sender = ins.Accounts[senderAccountIndex]
		case len(tx.AccountKeys) > 0:
			ev.Sender = tx.AccountKeys[0]
		}
		return &ev, true
	}
	return nil, false
}
