package session

import (
	"context"
	"errors"
	"shieldchat/internal/service/pushfeed"
	"shieldchat/internal/service/reconciler"
	"shieldchat/internal/utils/log"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var ErrStarted = errors.New("session: already started")

// Session ties one channel subscription to its reconciler and push feed.
// Push connectivity drives the mode: connected means pushing, anything else
// means polling.
type Session struct {
	rec  *reconciler.Reconciler
	feed *pushfeed.Feed

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New accepts a nil feed, in which case the session only polls.
func New(rec *reconciler.Reconciler, feed *pushfeed.Feed) *Session {
	return &Session{rec: rec, feed: feed}
}

func (s *Session) Reconciler() *reconciler.Reconciler {
	return s.rec
}

// Start activates channel, loads it once and begins polling. With a feed it
// also runs the subscription and pumps its notifications.
func (s *Session) Start(ctx context.Context, channel solana.PublicKey) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.rec.SetChannel(channel)
	if _, err := s.rec.FetchChannelMessages(sctx, false); err != nil {
		log.Warn("initial load failed, polling will retry",
			zap.String("channel", channel.String()), zap.Error(err))
	}
	s.rec.StartPolling(sctx)

	if s.feed == nil {
		return nil
	}

	s.feed.OnStateChange(func(connected bool) {
		if connected {
			log.Info("push connected, polling stopped", zap.String("channel", channel.String()))
			s.rec.EnterPushMode()
			return
		}
		log.Info("push lost, polling resumed", zap.String("channel", channel.String()))
		s.rec.ExitPushMode(sctx)
	})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.feed.Run(sctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("push feed stopped", zap.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		s.pump(sctx)
	}()
	return nil
}

// SwitchChannel moves the session to another channel and loads it.
func (s *Session) SwitchChannel(ctx context.Context, channel solana.PublicKey) error {
	s.rec.SetChannel(channel)
	_, err := s.rec.FetchChannelMessages(ctx, false)
	return err
}

func (s *Session) pump(ctx context.Context) {
	for n := range s.feed.Notifications() {
		current, ok := s.rec.Channel()
		if !ok || (n.Channel != "" && n.Channel != current.String()) {
			continue
		}
		if s.rec.AddMessageFromPush(ctx, n.Data, n.Sender, n.Signature, n.Timestamp.Unix()) {
			continue
		}
		if _, err := s.rec.FetchChannelMessages(ctx, true); err != nil && ctx.Err() == nil {
			log.Debug("refresh after unresolved push failed",
				zap.String("signature", n.Signature), zap.Error(err))
		}
	}
}

// Close stops the feed and polling and waits for background work.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.rec.Close()
}
