package reconciler

import (
	"shieldchat/internal/model"
	"sort"
)

// sameConfirmed reports whether two confirmed messages describe the same
// ledger record. A zero sequence means "not known yet" (push delivery).
func sameConfirmed(a, b *model.Message) bool {
	if a.SourceSignature == "" || a.SourceSignature != b.SourceSignature {
		return false
	}
	return a.SequenceNumber == b.SequenceNumber || a.SequenceNumber == 0 || b.SequenceNumber == 0
}

// supersedes reports whether confirmed replaces the optimistic local copy.
func supersedes(confirmed, local *model.Message) bool {
	return local.IsOptimistic() &&
		confirmed.SourceSignature != "" &&
		confirmed.Content == local.Content &&
		confirmed.Sender == local.Sender
}

// enrich picks the better of two copies of the same message: a decrypted
// body beats a placeholder, a known sequence beats an unknown one.
func enrich(existing, incoming *model.Message) *model.Message {
	if incoming.Content == model.DecryptionFailedContent && existing.Content != model.DecryptionFailedContent {
		return existing
	}
	if incoming.SequenceNumber == 0 && existing.SequenceNumber != 0 {
		merged := *existing
		if existing.Content == model.DecryptionFailedContent {
			merged.Apply(payloadOf(incoming))
		}
		return &merged
	}
	merged := *incoming
	if merged.Attachment == nil {
		merged.Attachment = existing.Attachment
	}
	return &merged
}

func payloadOf(m *model.Message) model.ContentPayload {
	return model.ContentPayload{
		Kind:       m.Kind,
		Text:       m.Content,
		Attachment: m.Attachment,
		PollID:     m.PollID,
		GameID:     m.GameID,
		GameType:   m.GameType,
	}
}

// mergeOne folds m into list. The list never shrinks: a match is replaced
// in place, anything else is appended.
func mergeOne(list []*model.Message, m *model.Message) ([]*model.Message, bool) {
	for i, existing := range list {
		if existing.ID == m.ID || sameConfirmed(existing, m) {
			list[i] = enrich(existing, m)
			return list, false
		}
	}
	if m.SourceSignature != "" {
		for i, existing := range list {
			if supersedes(m, existing) {
				list[i] = m
				return list, false
			}
		}
	}
	return append(list, m), true
}

// merge folds incoming into base and re-sorts. added counts new entries.
func merge(base, incoming []*model.Message) (out []*model.Message, added int) {
	out = base
	for _, m := range incoming {
		var isNew bool
		out, isNew = mergeOne(out, m)
		if isNew {
			added++
		}
	}
	sortMessages(out)
	return out, added
}

func sortMessages(list []*model.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return before(list[i], list[j])
	})
}

func before(a, b *model.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.SequenceNumber < b.SequenceNumber
}
