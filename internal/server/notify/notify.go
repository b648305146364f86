// Package notify delivers access request events to subjects.
package notify

import (
	"context"

	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Kind names the access request event being delivered.
type Kind string

const (
	// KindAccessRequested goes to every recipient of a new request.
	KindAccessRequested Kind = "access_requested"
	// KindAccessDecided goes to the requester once a request is finished.
	KindAccessDecided Kind = "access_decided"
)

// Message is the payload of a notification.
type Message struct {
	Kind       Kind
	RequestID  string
	SecretID   string
	Requester  models.Subject
	Permission models.PermissionType
	Status     models.RequestStatus
}

// Notifier delivers a message to one subject.
type Notifier interface {
	Notify(ctx context.Context, to models.Subject, msg Message) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, to models.Subject, msg Message) error

// Notify satisfies the Notifier interface.
func (f Func) Notify(ctx context.Context, to models.Subject, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, msg)
}

// Nop discards messages.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) Notify(context.Context, models.Subject, Message) error { return nil }

// Fanout forwards messages to multiple downstream notifiers.
type Fanout struct {
	targets []Notifier
}

// NewFanout assembles a notifier that multicasts to the provided targets.
func NewFanout(targets ...Notifier) *Fanout {
	filtered := make([]Notifier, 0, len(targets))
	for _, target := range targets {
		if target != nil {
			filtered = append(filtered, target)
		}
	}
	return &Fanout{targets: filtered}
}

var _ Notifier = (*Fanout)(nil)

// Notify delivers the message to each target, returning the first error observed.
func (f *Fanout) Notify(ctx context.Context, to models.Subject, msg Message) error {
	var firstErr error
	for _, target := range f.targets {
		if err := target.Notify(ctx, to, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier writes each message to a logger.
type LogNotifier struct {
	log logging.Logger
}

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, to models.Subject, msg Message) error {
	n.log.Info(ctx, "notification",
		"kind", string(msg.Kind),
		"to", to.String(),
		"request_id", msg.RequestID,
		"secret_id", msg.SecretID,
		"requester", msg.Requester.String(),
		"permission", msg.Permission.String(),
		"status", string(msg.Status),
	)
	return nil
}
