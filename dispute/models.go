package dispute

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusPending          Status = "pending"
	StatusUnderReview      Status = "under_review"
	StatusResolvedBuyer    Status = "resolved_buyer"
	StatusResolvedMerchant Status = "resolved_merchant"
	StatusClosed           Status = "closed"
)

// IsTerminal reports whether the dispute has reached a final state.
// Resolution is irreversible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResolvedBuyer, StatusResolvedMerchant, StatusClosed:
		return true
	}
	return false
}

// Resolution is the admin's arbitration choice.
type Resolution string

const (
	ResolutionBuyer    Resolution = "BUYER"
	ResolutionMerchant Resolution = "MERCHANT"
)

var (
	ErrNotFound = errors.New("dispute: not found")
	// ErrForbidden signals the principal may not act on the dispute.
	ErrForbidden = errors.New("dispute: forbidden")
	// ErrBadStatus signals the dispute is already terminal or not yet
	// reviewable; re-resolving never re-applies settlement.
	ErrBadStatus = errors.New("dispute: invalid status transition")
	// ErrAlreadyExists signals a second dispute on the same order.
	ErrAlreadyExists = errors.New("dispute: order already disputed")
	// ErrOrderNotDisputable signals the underlying order is not awaiting
	// buyer confirmation.
	ErrOrderNotDisputable = errors.New("dispute: order not awaiting buyer confirmation")
)

// ValidationError reports a missing or out-of-range request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispute: invalid %s: %s", e.Field, e.Reason)
}

// Record mirrors the disputes table. One dispute per order, enforced by a
// unique index on order_id.
type Record struct {
	ID                string
	OrderID           string
	BuyerID           string
	Reason            string
	BuyerStatement    string
	MerchantStatement *string
	Status            Status
	AdminNotes        *string
	ResolvedBy        *string
	ResolvedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateParams is the buyer's contest over one order.
type CreateParams struct {
	OrderID   string
	Reason    string
	Statement string
}

// ResolveParams is the admin's terminal arbitration decision.
type ResolveParams struct {
	DisputeID  string
	Resolution Resolution
	Notes      string
}

const maxStatementLen = 2000
