package notify

import (
	"context"
	"sync"

	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Async hands every message to a background goroutine so Notify returns
// immediately. Delivery errors are logged. Close stops pending deliveries
// and waits for them to return.
type Async struct {
	next Notifier
	log  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Notifier = (*Async)(nil)

// NewAsync wraps next.
func NewAsync(next Notifier, log logging.Logger) *Async {
	ctx, cancel := context.WithCancel(context.Background())
	return &Async{next: next, log: log, ctx: ctx, cancel: cancel}
}

// Notify schedules delivery and always returns nil. The delivery outlives
// ctx but keeps its values.
func (a *Async) Notify(ctx context.Context, to models.Subject, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.log.Warn(ctx, "notifier closed, message dropped", "to", to.String(), "kind", string(msg.Kind))
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(a.ctx, cancel)
		defer stop()

		if err := a.next.Notify(dctx, to, msg); err != nil {
			a.log.Warn(dctx, "notification failed", "to", to.String(), "kind", string(msg.Kind), "error", err)
		}
	}()
	return nil
}

// Close cancels pending deliveries and waits for them to finish.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
}
