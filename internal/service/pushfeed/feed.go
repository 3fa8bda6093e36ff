package pushfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"shieldchat/internal/metrics"
	"shieldchat/internal/utils/log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSubscribe = errors.New("pushfeed: subscription rejected")

type (
	Options struct {
		URL           string
		ProgramID     solana.PublicKey
		PingInterval  time.Duration
		MaxReconnects int
		BackoffBase   time.Duration
		BackoffMax    time.Duration
		Dialer        *websocket.Dialer
	}

	// Feed keeps one transactionSubscribe subscription alive and delivers
	// the program's instructions on Notifications().
	Feed struct {
		opts          Options
		notifications chan Notification
		connected     atomic.Bool
		metrics       *metrics.Metrics

		mu      sync.Mutex
		onState []func(connected bool)
	}
)

func New(opts Options, m *metrics.Metrics) *Feed {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Feed{
		opts:          opts,
		notifications: make(chan Notification, 64),
		metrics:       m,
	}
}

func (f *Feed) Notifications() <-chan Notification {
	return f.notifications
}

func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// OnStateChange registers a callback invoked on every connect/disconnect.
func (f *Feed) OnStateChange(fn func(connected bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = append(f.onState, fn)
}

func (f *Feed) setConnected(v bool) {
	if f.connected.Swap(v) == v {
		return
	}
	f.metrics.PushConnected(v)

	f.mu.Lock()
	callbacks := append([]func(bool){}, f.onState...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(v)
	}
}

func (f *Feed) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.BackoffBase
	b.MaxInterval = f.opts.BackoffMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.MaxReconnects)), ctx)
}

// Run blocks until ctx is cancelled or reconnect attempts are exhausted.
// A session that subscribed successfully resets the attempt budget.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.notifications)
	policy := f.newBackOff(ctx)

	for {
		subscribed, err := f.session(ctx)
		f.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			log.Error("push feed giving up", zap.Int("maxReconnects", f.opts.MaxReconnects), zap.Error(err))
			return fmt.Errorf("push feed: reconnect attempts exhausted: %w", err)
		}

		log.Warn("push feed disconnected", zap.Duration("retryIn", wait), zap.Error(err))
		f.metrics.PushReconnect()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Feed) subscribeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "transactionSubscribe",
		"params": []any{
			map[string]any{
				"accountInclude": []string{f.opts.ProgramID.String()},
				"failed":         false,
			},
			map[string]any{
				"commitment":                     "confirmed",
				"encoding":                       "jsonParsed",
				"transactionDetails":             "full",
				"showRewards":                    false,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}
}

// session runs one connection. subscribed reports whether the server
// accepted the subscription before the connection ended.
func (f *Feed) session(ctx context.Context) (subscribed bool, err error) {
	conn, _, err := f.opts.Dialer.DialContext(ctx, f.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(f.subscribeRequest()); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	readTimeout := 2*f.opts.PingInterval + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return subscribed, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !subscribed {
			var msg rpcMessage
			if err := json.Unmarshal(frame, &msg); err == nil && msg.ID != nil {
				if msg.Error != nil {
					return false, fmt.Errorf("%w: %s", ErrSubscribe, msg.Error.Message)
				}
				subscribed = true
				log.Info("push feed subscribed", zap.String("program", f.opts.ProgramID.String()))
				f.setConnected(true)
				go f.keepalive(sessionCtx, conn)
				continue
			}
		}

		notes, err := parseNotifications(frame, f.opts.ProgramID, time.Now())
		if err != nil {
			log.Debug("push feed: unreadable frame", zap.Error(err))
			continue
		}
		for _, n := range notes {
			select {
			case f.notifications <- n:
			case <-ctx.Done():
				return subscribed, ctx.Err()
			}
		}
	}
}

func (f *Feed) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug("push feed ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}
