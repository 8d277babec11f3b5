package order

// Status represents the escrow lifecycle of an order.
type Status string

const (
	StatusPendingQuote        Status = "pending_quote"
	StatusWaitingPayment      Status = "waiting_payment"
	StatusProofsSubmitted     Status = "proofs_submitted"
	StatusEscrowed            Status = "escrowed"
	StatusMerchantProcessing  Status = "merchant_processing"
	StatusWaitingBuyerConfirm Status = "waiting_buyer_confirm"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusExpired             Status = "expired"
)

// transitions is the closed table of legal status moves. Cancellation and
// expiry are handled separately via IsCancellable so the table only lists
// forward progress.
var transitions = map[Status][]Status{
	StatusPendingQuote:    {StatusWaitingPayment},
	StatusWaitingPayment:  {StatusProofsSubmitted, StatusEscrowed},
	StatusProofsSubmitted: {StatusEscrowed, StatusWaitingPayment},
	// Delivery proof is legal straight from escrowed: starting processing is
	// an optional intermediate step for the merchant.
	StatusEscrowed:            {StatusMerchantProcessing, StatusWaitingBuyerConfirm},
	StatusMerchantProcessing:  {StatusWaitingBuyerConfirm},
	StatusWaitingBuyerConfirm: {StatusCompleted},
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsCancellable reports whether a cancel command is accepted in this status.
// Every non-terminal status may be cancelled by the buyer, the merchant, or
// an admin.
func (s Status) IsCancellable() bool {
	return s.Valid() && !s.IsTerminal()
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingQuote, StatusWaitingPayment, StatusProofsSubmitted,
		StatusEscrowed, StatusMerchantProcessing, StatusWaitingBuyerConfirm,
		StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}
