package reconciler

import (
	"context"
	"errors"
	"fmt"
	"shieldchat/internal/metrics"
	"shieldchat/internal/model"
	"shieldchat/internal/service/ledger"
	"shieldchat/internal/utils/log"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errStale marks work whose channel stopped being the active one.
var errStale = errors.New("reconciler: channel changed")

// FetchChannelMessages loads the active channel. Cache hits publish at once
// and backfill from the ledger in the background; misses go to the ledger
// synchronously. A call made while another load is in flight returns the
// current list without starting new work. Background calls never flip the
// loading flag.
func (r *Reconciler) FetchChannelMessages(ctx context.Context, background bool) ([]model.Message, error) {
	r.mu.Lock()
	if !r.hasChannel {
		r.mu.Unlock()
		return nil, ErrNoChannel
	}
	channel, gen := r.channel, r.generation
	if r.state.FetchInFlight {
		r.mu.Unlock()
		r.metrics.Load(metrics.LoadCoalesced)
		return r.channelMessages(channel), nil
	}
	r.state.FetchInFlight = true
	if !background {
		r.loading = true
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.isCurrentLocked(channel, gen) {
			r.state.FetchInFlight = false
			r.loading = false
		}
		r.mu.Unlock()
	}()

	records, err := r.cache.ReadAll(ctx, channel.String())
	if err != nil {
		log.Warn("cache read failed, falling back to ledger",
			zap.String("channel", channel.String()), zap.Error(err))
	}
	if !r.isCurrent(channel, gen) {
		return r.channelMessages(channel), nil
	}

	if err == nil && len(records) > 0 {
		msgs := r.openRecords(channel, records)
		if _, ok := r.publish(channel, gen, msgs); !ok {
			return r.channelMessages(channel), nil
		}
		r.metrics.Load(metrics.LoadCacheHit)
		r.startBackfill(ctx, channel, gen)
		return r.channelMessages(channel), nil
	}

	r.metrics.Load(metrics.LoadCacheMiss)
	msgs, fresh, err := r.ledgerFallback(ctx, channel, gen)
	if errors.Is(err, errStale) {
		return r.channelMessages(channel), nil
	}
	if err != nil {
		r.metrics.Load(metrics.LoadError)
		err = fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
		log.Error("channel load failed", zap.String("channel", channel.String()), zap.Error(err))
		r.setError(channel, gen, err)
		return r.channelMessages(channel), err
	}

	if _, ok := r.publish(channel, gen, msgs); !ok {
		return r.channelMessages(channel), nil
	}
	r.writeBack(fresh)
	return r.channelMessages(channel), nil
}

// startBackfill runs the ledger path once per cache hit. It may only add
// records the displayed list lacks or enrich the ones it shows; a failure or
// a subset changes nothing.
func (r *Reconciler) startBackfill(parent context.Context, channel solana.PublicKey, gen uint64) {
	r.mu.Lock()
	if r.backfilling || !r.isCurrentLocked(channel, gen) {
		r.mu.Unlock()
		return
	}
	r.backfilling = true
	r.mu.Unlock()

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		defer func() {
			r.mu.Lock()
			if r.isCurrentLocked(channel, gen) {
				r.backfilling = false
			}
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.backfillTimeout)
		defer cancel()

		msgs, records, err := r.ledgerFallback(ctx, channel, gen)
		if err != nil {
			if !errors.Is(err, errStale) {
				log.Warn("backfill failed, keeping cached view",
					zap.String("channel", channel.String()), zap.Error(err))
			}
			return
		}

		missing, missingRecords := r.absent(channel, msgs, records)
		if len(missing) == 0 {
			return
		}
		added, ok := r.publish(channel, gen, missing)
		if !ok {
			return
		}
		r.metrics.Load(metrics.LoadBackfill)
		log.Debug("backfill updated messages",
			zap.String("channel", channel.String()),
			zap.Int("added", added),
			zap.Int("enriched", len(missing)-added))
		r.writeBack(missingRecords)
	}()
}

// absent keeps the ledger messages the displayed list has no copy of, and
// those that improve a displayed copy: a known sequence for a push-delivered
// message, or a decrypted body for a placeholder. A confirmed copy of an
// optimistic message counts as absent so it can replace it.
func (r *Reconciler) absent(channel solana.PublicKey, msgs []*model.Message, records []*model.CachedRecord) ([]*model.Message, []*model.CachedRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var shown []*model.Message
	if r.listChannel.Equals(channel) {
		shown = r.messages
	}

	var (
		outMsgs    []*model.Message
		outRecords []*model.CachedRecord
	)
	for i, m := range msgs {
		existing := listed(shown, m)
		if existing == nil || improves(m, existing) {
			outMsgs = append(outMsgs, m)
			outRecords = append(outRecords, records[i])
		}
	}
	return outMsgs, outRecords
}

func listed(list []*model.Message, m *model.Message) *model.Message {
	for _, existing := range list {
		if existing.ID == m.ID || sameConfirmed(existing, m) {
			return existing
		}
	}
	return nil
}

// improves reports whether merging incoming would change the displayed copy.
func improves(incoming, existing *model.Message) bool {
	if existing.SequenceNumber == 0 && incoming.SequenceNumber != 0 {
		return true
	}
	return existing.Content == model.DecryptionFailedContent &&
		incoming.Content != model.DecryptionFailedContent
}

// ledgerFallback resolves the channel's recent ledger events into messages,
// sorted by timestamp, along with the records to cache. Records that fail
// to resolve are skipped; only a failure to list events is returned.
func (r *Reconciler) ledgerFallback(ctx context.Context, channel solana.PublicKey, gen uint64) ([]*model.Message, []*model.CachedRecord, error) {
	if r.ledger == nil {
		return nil, nil, errors.New("no ledger source configured")
	}
	events, err := r.ledger.RecentEvents(ctx, channel)
	if err != nil {
		return nil, nil, err
	}
	if !r.isCurrent(channel, gen) {
		return nil, nil, errStale
	}

	type resolved struct {
		msg    *model.Message
		record *model.CachedRecord
	}
	results := make([]resolved, len(events))

	var g errgroup.Group
	g.SetLimit(r.batchSize)
	for i := range events {
		g.Go(func() error {
			msg, record, ok := r.resolveEvent(ctx, channel, &events[i])
			if ok {
				results[i] = resolved{msg: msg, record: record}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if !r.isCurrent(channel, gen) {
		return nil, nil, errStale
	}

	kept := results[:0]
	for _, res := range results {
		if res.msg != nil {
			kept = append(kept, res)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return before(kept[i].msg, kept[j].msg)
	})

	msgs := make([]*model.Message, len(kept))
	records := make([]*model.CachedRecord, len(kept))
	for i, res := range kept {
		msgs[i], records[i] = res.msg, res.record
	}
	return msgs, records, nil
}

func (r *Reconciler) resolveEvent(ctx context.Context, channel solana.PublicKey, ev *ledger.Event) (*model.Message, *model.CachedRecord, bool) {
	if r.store == nil {
		return nil, nil, false
	}
	env, err := r.store.FetchEnvelope(ctx, ev.ContentRef)
	if err != nil || env == nil {
		log.Warn("skipping message: content unavailable",
			zap.String("channel", channel.String()),
			zap.String("signature", ev.Signature),
			zap.String("contentRef", ev.ContentRef),
			zap.Error(err))
		r.metrics.Skipped(metrics.StageContent)
		return nil, nil, false
	}

	record := &model.CachedRecord{
		ID:              model.ConfirmedID(ev.Signature, ev.SequenceNumber),
		Channel:         channel.String(),
		Sender:          senderOf(ev.Sender, env),
		ContentRef:      ev.ContentRef,
		SourceSignature: ev.Signature,
		SequenceNumber:  ev.SequenceNumber,
		Timestamp:       timestampOf(ev.OccurredAt, env),
		Envelope:        env,
	}
	return r.messageFromRecord(channel, record), record, true
}

// openRecords decrypts every cached record concurrently.
func (r *Reconciler) openRecords(channel solana.PublicKey, records []*model.CachedRecord) []*model.Message {
	msgs := make([]*model.Message, len(records))

	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs[i] = r.messageFromRecord(channel, rec)
		}()
	}
	wg.Wait()
	return msgs
}

func (r *Reconciler) messageFromRecord(channel solana.PublicKey, rec *model.CachedRecord) *model.Message {
	m := &model.Message{
		ID:              rec.ID,
		Channel:         rec.Channel,
		Sender:          rec.Sender,
		Timestamp:       rec.Timestamp,
		SourceSignature: rec.SourceSignature,
		SequenceNumber:  rec.SequenceNumber,
		ContentRef:      rec.ContentRef,
	}
	m.Apply(r.openEnvelope(channel, rec.Envelope, rec.ContentRef))
	return m
}

// openEnvelope never fails: an envelope that cannot be opened, including
// one with an unknown version, becomes a placeholder.
func (r *Reconciler) openEnvelope(channel solana.PublicKey, env *model.EncryptedEnvelope, ref string) model.ContentPayload {
	plain, err := r.box.Decrypt(env, channel)
	if err != nil {
		log.Warn("decrypt failed",
			zap.String("channel", channel.String()),
			zap.String("contentRef", ref),
			zap.Error(err))
		r.metrics.DecryptFailure()
		return model.ContentPayload{Kind: model.KindText, Text: model.DecryptionFailedContent}
	}
	return model.DecodePayload(plain)
}

// writeBack caches records without blocking the caller.
func (r *Reconciler) writeBack(records []*model.CachedRecord) {
	if len(records) == 0 {
		return
	}
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		if err := r.cache.WriteMany(ctx, records); err != nil {
			log.Warn("cache write-back failed", zap.Int("records", len(records)), zap.Error(err))
		}
	}()
}

func senderOf(sender solana.PublicKey, env *model.EncryptedEnvelope) string {
	if !sender.IsZero() {
		return sender.String()
	}
	if len(env.SenderPublicKey) == solana.PublicKeyLength {
		return solana.PublicKeyFromBytes(env.SenderPublicKey).String()
	}
	return ""
}

func timestampOf(occurredAt int64, env *model.EncryptedEnvelope) time.Time {
	if occurredAt > 0 {
		return time.Unix(occurredAt, 0).UTC()
	}
	return env.CreatedAt.UTC()
}
