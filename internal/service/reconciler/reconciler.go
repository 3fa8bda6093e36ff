package reconciler

import (
	"context"
	"errors"
	"shieldchat/internal/cryptographic/cipherbox"
	"shieldchat/internal/metrics"
	"shieldchat/internal/model"
	messageRepo "shieldchat/internal/repository/message"
	"shieldchat/internal/service/ledger"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNoChannel          = errors.New("reconciler: no active channel")
	ErrChannelUnavailable = errors.New("reconciler: channel unavailable")
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultBatchSize       = 5
	defaultBackfillTimeout = time.Minute
	writeBackTimeout       = 10 * time.Second
)

type (
	// Cache is the best-effort store of sealed records.
	Cache interface {
		ReadAll(ctx context.Context, channel string) ([]*model.CachedRecord, error)
		WriteOne(ctx context.Context, record *model.CachedRecord) error
		WriteMany(ctx context.Context, records []*model.CachedRecord) error
	}

	ContentStore interface {
		UploadEnvelope(ctx context.Context, env *model.EncryptedEnvelope) (string, []byte, error)
		FetchEnvelope(ctx context.Context, ref string) (*model.EncryptedEnvelope, error)
	}

	EventSource interface {
		RecentEvents(ctx context.Context, channel solana.PublicKey) ([]ledger.Event, error)
	}

	Cipher interface {
		Encrypt(plaintext []byte, channel solana.PublicKey) (*model.EncryptedEnvelope, error)
		Decrypt(env *model.EncryptedEnvelope, channel solana.PublicKey) ([]byte, error)
	}

	Options struct {
		Cache           Cache
		Store           ContentStore
		Ledger          EventSource
		Cipher          Cipher
		Metrics         *metrics.Metrics
		PollInterval    time.Duration
		BatchSize       int
		BackfillTimeout time.Duration
		Now             func() time.Time
	}

	Status struct {
		Channel           string
		Loading           bool
		Err               error
		Mode              model.Mode
		LastKnownSequence uint64
		FetchInFlight     bool
	}

	// Reconciler merges cache, ledger and push into one ordered list for the
	// active channel. All state below mu is mutated only while holding it.
	Reconciler struct {
		cache           Cache
		store           ContentStore
		ledger          EventSource
		box             Cipher
		metrics         *metrics.Metrics
		pollInterval    time.Duration
		batchSize       int
		backfillTimeout time.Duration
		now             func() time.Time

		mu          sync.Mutex
		channel     solana.PublicKey
		hasChannel  bool
		generation  uint64
		state       model.ChannelSyncState
		loading     bool
		backfilling bool
		lastErr     error
		listChannel solana.PublicKey
		messages    []*model.Message
		pollCancel  context.CancelFunc
		pollDone    chan struct{}

		background sync.WaitGroup
	}
)

func New(opts Options) *Reconciler {
	r := &Reconciler{
		cache:           opts.Cache,
		store:           opts.Store,
		ledger:          opts.Ledger,
		box:             opts.Cipher,
		metrics:         opts.Metrics,
		pollInterval:    opts.PollInterval,
		batchSize:       opts.BatchSize,
		backfillTimeout: opts.BackfillTimeout,
		now:             opts.Now,
	}
	if r.cache == nil {
		r.cache = messageRepo.NopRepo{}
	}
	if r.box == nil {
		r.box = cipherbox.New()
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.backfillTimeout <= 0 {
		r.backfillTimeout = defaultBackfillTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// SetChannel makes channel the active one. Sync state is reset; the
// displayed list is kept until the new channel publishes.
func (r *Reconciler) SetChannel(channel solana.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasChannel && r.channel.Equals(channel) {
		return
	}
	r.channel = channel
	r.hasChannel = true
	r.generation++
	r.state = model.ChannelSyncState{Mode: model.ModePolling}
	r.loading = false
	r.backfilling = false
	r.lastErr = nil
}

func (r *Reconciler) Channel() (solana.PublicKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel, r.hasChannel
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Loading:           r.loading,
		Err:               r.lastErr,
		Mode:              r.state.Mode,
		LastKnownSequence: r.state.LastKnownSequence,
		FetchInFlight:     r.state.FetchInFlight,
	}
	if r.hasChannel {
		s.Channel = r.channel.String()
	}
	return s
}

// Messages returns a copy of the displayed list, which after a channel
// switch may still belong to the previous channel.
func (r *Reconciler) Messages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMessages(r.messages)
}

// channelMessages returns the list only if it belongs to the active channel.
func (r *Reconciler) channelMessages(channel solana.PublicKey) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.listChannel.Equals(channel) {
		return []model.Message{}
	}
	return copyMessages(r.messages)
}

func copyMessages(list []*model.Message) []model.Message {
	out := make([]model.Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

func (r *Reconciler) current() (solana.PublicKey, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel, r.generation, r.hasChannel
}

// isCurrentLocked must be called with mu held.
func (r *Reconciler) isCurrentLocked(channel solana.PublicKey, gen uint64) bool {
	return r.hasChannel && r.generation == gen && r.channel.Equals(channel)
}

func (r *Reconciler) isCurrent(channel solana.PublicKey, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isCurrentLocked(channel, gen)
}

// publish merges msgs into the displayed list. It is the only place the
// list changes besides push and local inserts, and it refuses to write
// for a channel that is no longer active.
func (r *Reconciler) publish(channel solana.PublicKey, gen uint64, msgs []*model.Message) (added int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isCurrentLocked(channel, gen) {
		return 0, false
	}
	r.lastErr = nil
	return r.mergeLocked(channel, msgs), true
}

// mergeLocked must be called with mu held. A list that belongs to another
// channel is replaced rather than merged into.
func (r *Reconciler) mergeLocked(channel solana.PublicKey, msgs []*model.Message) (added int) {
	base := r.messages
	if !r.listChannel.Equals(channel) {
		base = nil
	}

	r.messages, added = merge(base, msgs)
	r.listChannel = channel
	for _, m := range r.messages {
		r.state.LastKnownSequence = max(r.state.LastKnownSequence, m.SequenceNumber)
	}
	r.metrics.Displayed(len(r.messages))
	return added
}

func (r *Reconciler) setError(channel solana.PublicKey, gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isCurrentLocked(channel, gen) {
		r.lastErr = err
	}
}

// Close stops polling and waits for background backfills and cache writes.
func (r *Reconciler) Close() {
	r.StopPolling()
	r.background.Wait()
}
