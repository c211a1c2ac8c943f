package notify

import (
	"context"
	"errors"
	"time"
)

// Event types sent to drivers and customers.
const (
	EventOfferCreated     = "offer.created"
	EventOfferRevoked     = "offer.revoked"
	EventRequestAssigned  = "request.assigned"
	EventRequestStatus    = "request.status_changed"
	EventRequestCancelled = "request.cancelled"
	EventRequestFailed    = "request.failed"
	EventSearchTimeout    = "request.search_timeout"
)

// Event is a fire-and-forget message for one recipient.
type Event struct {
	Type      string    `json:"type"`
	Recipient string    `json:"recipient"`
	RequestID string    `json:"request_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers events. Callers never wait for the recipient.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier.
type Multi []Notifier

// Notify calls every non-nil notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

var (
	_ Notifier = Nop{}
	_ Notifier = Multi{}
)
