package offer

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no offer row exists for the identifier.
	ErrNotFound = errors.New("offer: not found")
	// ErrForbidden signals the principal does not own the offer.
	ErrForbidden = errors.New("offer: forbidden")
	// ErrActiveOfferExists signals the merchant already has an active offer.
	ErrActiveOfferExists = errors.New("offer: merchant already has an active offer")
)

// CooldownError reports an activation attempt inside the cooldown window.
// Remaining is surfaced so the caller can show the wait to the user.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("offer: activation cooldown, retry in %s", e.Remaining.Round(time.Second))
}

// ValidationError reports a missing or out-of-range request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("offer: invalid %s: %s", e.Field, e.Reason)
}

// Offer is a merchant's standing price quote for a transfer corridor. Offers
// are never deleted, only deactivated.
type Offer struct {
	ID           string
	MerchantID   string
	OfferType    string
	ExchangeRate decimal.Decimal
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateParams enumerates the fields a merchant supplies for a new offer.
type CreateParams struct {
	OfferType string
	Rate      decimal.Decimal
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

// ActivationCooldown is the minimum gap between two offer activations by the
// same merchant. Activation exactly at the boundary succeeds.
const ActivationCooldown = time.Hour

// CooldownRemaining returns how long the merchant still has to wait, zero if
// activation is allowed.
func CooldownRemaining(lastActivatedAt *time.Time, now time.Time) time.Duration {
	if lastActivatedAt == nil {
		return 0
	}
	remaining := lastActivatedAt.Add(ActivationCooldown).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
