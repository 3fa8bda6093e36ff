package reconciler

import (
	"context"
	"shieldchat/internal/codec"
	"shieldchat/internal/metrics"
	"shieldchat/internal/model"
	"shieldchat/internal/utils/log"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// AddMessageFromPush resolves a push-delivered instruction and adds it to
// the active channel. It reports whether the list gained or confirmed a
// message; false means the caller should fall back to a full refresh.
func (r *Reconciler) AddMessageFromPush(ctx context.Context, data []byte, senderHint, signature string, timestamp int64) bool {
	channel, gen, ok := r.current()
	if !ok || signature == "" {
		return false
	}

	ref, ok := codec.ContentRefFromInstruction(data)
	if !ok {
		r.metrics.PushIngest(metrics.PushUnresolved)
		return false
	}
	if r.hasSignature(signature) {
		r.metrics.PushIngest(metrics.PushDuplicate)
		return false
	}

	if r.store == nil {
		r.metrics.PushIngest(metrics.PushUnresolved)
		return false
	}
	env, err := r.store.FetchEnvelope(ctx, ref)
	if err != nil || env == nil {
		log.Warn("push content unavailable",
			zap.String("channel", channel.String()),
			zap.String("signature", signature),
			zap.String("contentRef", ref),
			zap.Error(err))
		r.metrics.PushIngest(metrics.PushUnresolved)
		return false
	}
	if !r.isCurrent(channel, gen) {
		return false
	}

	ts := time.Unix(timestamp, 0).UTC()
	if timestamp <= 0 {
		ts = r.now().UTC()
	}
	sender := senderHint
	if sender == "" {
		sender = senderOf(solana.PublicKey{}, env)
	}

	record := &model.CachedRecord{
		ID:              model.ConfirmedID(signature, 0),
		Channel:         channel.String(),
		Sender:          sender,
		ContentRef:      ref,
		SourceSignature: signature,
		Timestamp:       ts,
		Envelope:        env,
	}
	msg := r.messageFromRecord(channel, record)

	outcome := r.ingest(channel, gen, msg)
	r.metrics.PushIngest(outcome)
	switch outcome {
	case metrics.PushAdded, metrics.PushReplaced:
		r.writeOne(record)
		return true
	default:
		return false
	}
}

func (r *Reconciler) hasSignature(signature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.SourceSignature == signature {
			return true
		}
	}
	return false
}

// ingest applies the push duplicate rule: a signature match or a
// confirmed message with the same content and sender is a duplicate, while
// an optimistic one with the same content and sender is replaced.
func (r *Reconciler) ingest(channel solana.PublicKey, gen uint64, msg *model.Message) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isCurrentLocked(channel, gen) {
		return metrics.PushUnresolved
	}

	var shown []*model.Message
	if r.listChannel.Equals(channel) {
		shown = r.messages
	}
	for i, existing := range shown {
		if existing.SourceSignature == msg.SourceSignature {
			return metrics.PushDuplicate
		}
		if existing.Content == msg.Content && existing.Sender == msg.Sender {
			if !existing.IsOptimistic() {
				return metrics.PushDuplicate
			}
			if msg.Attachment == nil {
				msg.Attachment = existing.Attachment
			}
			r.messages[i] = msg
			sortMessages(r.messages)
			return metrics.PushReplaced
		}
	}

	r.mergeLocked(channel, []*model.Message{msg})
	return metrics.PushAdded
}

func (r *Reconciler) writeOne(record *model.CachedRecord) {
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		if err := r.cache.WriteOne(ctx, record); err != nil {
			log.Warn("cache write failed", zap.String("id", record.ID), zap.Error(err))
		}
	}()
}
