package reconciler

import (
	"shieldchat/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmed(sig string, seq uint64, content string, ts int64) *model.Message {
	return &model.Message{
		ID:              model.ConfirmedID(sig, seq),
		Sender:          "abc",
		Content:         content,
		Kind:            model.KindText,
		Timestamp:       time.Unix(ts, 0).UTC(),
		SourceSignature: sig,
		SequenceNumber:  seq,
	}
}

func TestMergeDecryptedBeatsPlaceholder(t *testing.T) {
	list, added := merge(nil, []*model.Message{confirmed("s", 1, model.DecryptionFailedContent, 1)})
	require.Equal(t, 1, added)

	list, added = merge(list, []*model.Message{confirmed("s", 1, "readable", 1)})
	assert.Zero(t, added)
	require.Len(t, list, 1)
	assert.Equal(t, "readable", list[0].Content)

	list, _ = merge(list, []*model.Message{confirmed("s", 1, model.DecryptionFailedContent, 1)})
	assert.Equal(t, "readable", list[0].Content)
}

func TestMergeKnownSequenceWins(t *testing.T) {
	list, _ := merge(nil, []*model.Message{confirmed("s", 3, "x", 1)})
	list, added := merge(list, []*model.Message{confirmed("s", 0, "x", 1)})
	assert.Zero(t, added)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(3), list[0].SequenceNumber)
}

func TestMergeDistinctSequencesStayApart(t *testing.T) {
	list, added := merge(nil, []*model.Message{
		confirmed("s", 1, "first", 1),
		confirmed("s", 2, "second", 1),
	})
	assert.Equal(t, 2, added)
	assert.Len(t, list, 2)
}

func TestMergeConfirmedReplacesOptimistic(t *testing.T) {
	local := &model.Message{
		ID:        model.LocalID("tok"),
		Sender:    "abc",
		Content:   "hello",
		Timestamp: time.Unix(5, 0).UTC(),
	}
	list, _ := merge(nil, []*model.Message{local})

	list, added := merge(list, []*model.Message{confirmed("s", 1, "hello", 4)})
	assert.Zero(t, added)
	require.Len(t, list, 1)
	assert.Equal(t, "s", list[0].SourceSignature)
}

func TestMergeSortsByTimestampThenSequence(t *testing.T) {
	list, _ := merge(nil, []*model.Message{
		confirmed("c", 3, "c", 10),
		confirmed("a", 1, "a", 5),
		confirmed("b", 2, "b", 10),
	})
	got := make([]string, len(list))
	for i, m := range list {
		got[i] = m.Content
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
