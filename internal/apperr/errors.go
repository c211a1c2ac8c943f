package apperr

import "errors"

// ErrInvalid is returned when the input fails domain validation.
var ErrInvalid = errors.New("invalid input")

// ErrNotFound indicates that the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflictActiveRequest is returned when a driver holding a request tries to go offline.
var ErrConflictActiveRequest = errors.New("driver holds an active request")

// ErrPreconditionFailed is returned when the driver state does not allow the action.
var ErrPreconditionFailed = errors.New("precondition failed")

// ErrOfferExpired is returned for accepts and rejects without a live offer.
var ErrOfferExpired = errors.New("offer expired")

// ErrAlreadyClaimed is returned when another driver won the request.
var ErrAlreadyClaimed = errors.New("request already claimed")

// ErrAlreadyCancelled is returned when the request was cancelled first.
var ErrAlreadyCancelled = errors.New("request already cancelled")

// ErrInvalidTransition is returned for out-of-order status changes.
var ErrInvalidTransition = errors.New("invalid status transition")

// Kind is the client-facing name of an error class.
type Kind string

const (
	KindInvalid               Kind = "Invalid"
	KindNotFound              Kind = "NotFound"
	KindConflictActiveRequest Kind = "ConflictActiveRequest"
	KindPreconditionFailed    Kind = "PreconditionFailed"
	KindOfferExpired          Kind = "OfferExpired"
	KindAlreadyClaimed        Kind = "AlreadyClaimed"
	KindAlreadyCancelled      Kind = "AlreadyCancelled"
	KindInvalidTransition     Kind = "InvalidTransition"
	KindInternal              Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalid, KindInvalid},
	{ErrNotFound, KindNotFound},
	{ErrConflictActiveRequest, KindConflictActiveRequest},
	{ErrPreconditionFailed, KindPreconditionFailed},
	{ErrOfferExpired, KindOfferExpired},
	{ErrAlreadyClaimed, KindAlreadyClaimed},
	{ErrAlreadyCancelled, KindAlreadyCancelled},
	{ErrInvalidTransition, KindInvalidTransition},
}

// KindOf classifies err; unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsDomain reports whether err is one of the recoverable dispatch errors.
func IsDomain(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindInternal
}
