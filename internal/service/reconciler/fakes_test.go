package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"shieldchat/internal/codec"
	"shieldchat/internal/cryptographic/cipherbox"
	"shieldchat/internal/model"
	"shieldchat/internal/service/ledger"
	"shieldchat/internal/service/ledger/ledgertest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var (
	testChannel  = solana.PublicKey{1, 1, 1}
	otherChannel = solana.PublicKey{2, 2, 2}
	testProgram  = solana.PublicKey{9, 9, 9}
	testSender   = solana.PublicKey{7, 7, 7}

	baseTime int64 = 1_700_000_000
)

type memCache struct {
	mu      sync.Mutex
	records map[string]map[string]*model.CachedRecord
	readErr error
	reads   atomic.Int32
}

func newMemCache() *memCache {
	return &memCache{records: make(map[string]map[string]*model.CachedRecord)}
}

func (c *memCache) setReadErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

func (c *memCache) ReadAll(_ context.Context, channel string) ([]*model.CachedRecord, error) {
	c.reads.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	out := make([]*model.CachedRecord, 0, len(c.records[channel]))
	for _, rec := range c.records[channel] {
		out = append(out, rec)
	}
	return out, nil
}

func (c *memCache) WriteOne(ctx context.Context, record *model.CachedRecord) error {
	return c.WriteMany(ctx, []*model.CachedRecord{record})
}

func (c *memCache) WriteMany(_ context.Context, records []*model.CachedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		if c.records[rec.Channel] == nil {
			c.records[rec.Channel] = make(map[string]*model.CachedRecord)
		}
		c.records[rec.Channel][rec.ID] = rec
	}
	return nil
}

func (c *memCache) count(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records[channel])
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	n     int
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) UploadEnvelope(_ context.Context, env *model.EncryptedEnvelope) (string, []byte, error) {
	blob, err := json.Marshal(env)
	if err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	ref := fmt.Sprintf("QmTestBlob%04d", s.n)
	s.blobs[ref] = blob
	return ref, blob, nil
}

func (s *memStore) FetchEnvelope(_ context.Context, ref string) (*model.EncryptedEnvelope, error) {
	s.mu.Lock()
	blob, ok := s.blobs[ref]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("memstore: not found")
	}
	var env model.EncryptedEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *memStore) envelope(t *testing.T, ref string) *model.EncryptedEnvelope {
	t.Helper()
	env, err := s.FetchEnvelope(context.Background(), ref)
	require.NoError(t, err)
	return env
}

// blockingSource holds every RecentEvents call until release is closed.
type blockingSource struct {
	release chan struct{}
	events  []ledger.Event
	calls   atomic.Int32
}

func newBlockingSource(events ...ledger.Event) *blockingSource {
	return &blockingSource{release: make(chan struct{}), events: events}
}

func (b *blockingSource) RecentEvents(ctx context.Context, _ solana.PublicKey) ([]ledger.Event, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
		return b.events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type harness struct {
	rpc   *ledgertest.FakeRPC
	cache *memCache
	store *memStore
	box   *cipherbox.Box
	r     *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rpc:   ledgertest.NewFakeRPC(),
		cache: newMemCache(),
		store: newMemStore(),
		box:   cipherbox.New(),
	}
	h.r = New(Options{
		Cache:  h.cache,
		Store:  h.store,
		Ledger: ledger.NewSource(h.rpc, testProgram, 50, 2, nil),
		Cipher: h.box,
	})
	h.r.SetChannel(testChannel)
	t.Cleanup(h.r.Close)
	return h
}

func (h *harness) seal(t *testing.T, channel solana.PublicKey, text string) string {
	t.Helper()
	plain, err := model.NewTextPayload(text, nil).Marshal()
	require.NoError(t, err)
	env, err := h.box.Encrypt(plain, channel)
	require.NoError(t, err)
	ref, _, err := h.store.UploadEnvelope(context.Background(), env)
	require.NoError(t, err)
	return ref
}

func (h *harness) addEvent(sig, ref string, seq uint64, ts int64) {
	h.rpc.Add(testChannel, ledgertest.EventTransaction(sig, testProgram, &model.RawEvent{
		Channel:        testChannel,
		Sender:         testSender,
		ContentRef:     ref,
		SequenceNumber: seq,
		OccurredAt:     ts,
	}))
}

func (h *harness) cacheRecord(t *testing.T, sig, ref string, seq uint64, ts int64) *model.CachedRecord {
	t.Helper()
	rec := &model.CachedRecord{
		ID:              model.ConfirmedID(sig, seq),
		Channel:         testChannel.String(),
		Sender:          testSender.String(),
		ContentRef:      ref,
		SourceSignature: sig,
		SequenceNumber:  seq,
		Timestamp:       time.Unix(ts, 0).UTC(),
		Envelope:        h.store.envelope(t, ref),
	}
	require.NoError(t, h.cache.WriteOne(context.Background(), rec))
	return rec
}

func pushData(ref string) []byte {
	return codec.EncodeLogMessageInstruction(codec.MessageHash([]byte(ref)), ref)
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func requireSorted(t *testing.T, msgs []model.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp), "message %d out of order", i)
	}
}
