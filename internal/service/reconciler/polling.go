package reconciler

import (
	"context"
	"errors"
	"shieldchat/internal/model"
	"shieldchat/internal/utils/log"
	"time"

	"go.uber.org/zap"
)

// StartPolling refreshes the active channel in the background every poll
// interval until StopPolling or ctx is done. Calling it twice is a no-op.
func (r *Reconciler) StartPolling(ctx context.Context) {
	r.mu.Lock()
	if r.pollCancel != nil {
		r.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.pollCancel, r.pollDone = cancel, done
	r.state.Mode = model.ModePolling
	r.mu.Unlock()

	go r.poll(pctx, done)
}

func (r *Reconciler) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := r.FetchChannelMessages(ctx, true)
			if err != nil && !errors.Is(err, ErrNoChannel) && ctx.Err() == nil {
				log.Debug("poll refresh failed", zap.Error(err))
			}
		}
	}
}

// StopPolling stops the poll loop and waits for it to exit.
func (r *Reconciler) StopPolling() {
	r.mu.Lock()
	cancel, done := r.pollCancel, r.pollDone
	r.pollCancel, r.pollDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reconciler) Polling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollCancel != nil
}

// EnterPushMode stops polling; the caller feeds push notifications instead.
func (r *Reconciler) EnterPushMode() {
	r.StopPolling()

	r.mu.Lock()
	r.state.Mode = model.ModePushing
	r.mu.Unlock()
}

// ExitPushMode returns to polling after push connectivity is lost.
func (r *Reconciler) ExitPushMode(ctx context.Context) {
	r.mu.Lock()
	r.state.Mode = model.ModePolling
	r.mu.Unlock()

	r.StartPolling(ctx)
}
