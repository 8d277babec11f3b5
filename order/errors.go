package order

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no order row exists for the identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrForbidden signals the principal is not allowed to act on the order.
	ErrForbidden = errors.New("order: forbidden")
	// ErrInvalidState signals the order's current status does not permit the
	// requested transition. Callers must re-fetch before retrying.
	ErrInvalidState = errors.New("order: invalid status transition")
	// ErrAlreadyRated signals a second rating attempt on the same order.
	ErrAlreadyRated = errors.New("order: already rated")
	// ErrOfferInactive signals order creation against a deactivated offer.
	ErrOfferInactive = errors.New("order: offer is not active")
	// ErrDisputed signals a completion or cancellation attempt while an open
	// dispute holds the order for arbitration.
	ErrDisputed = errors.New("order: under active dispute")
)

// ValidationError reports a missing or out-of-range request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: invalid %s: %s", e.Field, e.Reason)
}
