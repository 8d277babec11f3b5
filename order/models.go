package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order mirrors the orders table. The exchange rate is snapshotted from the
// offer at creation time and never changes afterwards, so the buyer's total
// is fixed for the life of the order.
type Order struct {
	ID           string
	BuyerID      string
	MerchantID   string
	OfferID      string
	Amount       decimal.Decimal
	ExchangeRate decimal.Decimal
	TotalAmount  decimal.Decimal
	Status       Status

	// Buyer payment proof artifacts, opaque references to uploaded images.
	PaymentTxnID       *string
	PaymentProofBefore *string
	PaymentProofAfter  *string
	PaymentNote        *string

	// Merchant delivery proof artifacts.
	DeliveryTxnID    *string
	DeliveryProofRef *string
	RecipientAddress *string
	DeliveryNote     *string

	BuyerConfirmedReceived bool
	RejectionReason        *string

	// Settlement is nil until the order completes and is written exactly once.
	Settlement *Settlement

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// CreateParams enumerates the fields a buyer supplies when opening an order
// against an active offer.
type CreateParams struct {
	OfferID string
	Amount  decimal.Decimal
}

// PaymentProofParams is the buyer's escrow funding evidence.
type PaymentProofParams struct {
	OrderID        string
	TransactionID  string
	BeforeProofRef string
	AfterProofRef  string
	Confirmation   string
}

// DeliveryProofParams is the merchant's transfer evidence.
type DeliveryProofParams struct {
	OrderID          string
	TransactionID    string
	RecipientAddress string
	ProofRef         string
	Confirmation     string
}

// RateParams is a buyer's one-shot score for a completed order.
type RateParams struct {
	OrderID string
	Score   int
	Comment string
}

// Rating mirrors the ratings table. One row per order, immutable.
type Rating struct {
	ID        string
	OrderID   string
	BuyerID   string
	Score     int
	Comment   string
	CreatedAt time.Time
}
