package order

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingQuote, StatusWaitingPayment, true},
		{StatusWaitingPayment, StatusProofsSubmitted, true},
		{StatusWaitingPayment, StatusEscrowed, true},
		{StatusProofsSubmitted, StatusEscrowed, true},
		{StatusProofsSubmitted, StatusWaitingPayment, true},
		{StatusEscrowed, StatusMerchantProcessing, true},
		// Processing is optional: delivery proof straight from escrowed.
		{StatusEscrowed, StatusWaitingBuyerConfirm, true},
		{StatusMerchantProcessing, StatusWaitingBuyerConfirm, true},
		{StatusWaitingBuyerConfirm, StatusCompleted, true},

		{StatusPendingQuote, StatusEscrowed, false},
		{StatusWaitingPayment, StatusWaitingBuyerConfirm, false},
		{StatusWaitingBuyerConfirm, StatusEscrowed, false},
		{StatusCompleted, StatusWaitingBuyerConfirm, false},
		{StatusCancelled, StatusWaitingPayment, false},
		{StatusExpired, StatusPendingQuote, false},
		{StatusMerchantProcessing, StatusCompleted, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusExpired}
	open := []Status{StatusPendingQuote, StatusWaitingPayment, StatusProofsSubmitted,
		StatusEscrowed, StatusMerchantProcessing, StatusWaitingBuyerConfirm}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s: expected terminal", s)
		}
		if s.IsCancellable() {
			t.Errorf("%s: terminal status must not be cancellable", s)
		}
	}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s: expected non-terminal", s)
		}
		if !s.IsCancellable() {
			t.Errorf("%s: every non-terminal status is cancellable", s)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if Status("frobnicated").Valid() {
		t.Error("unknown status must not validate")
	}
	if !StatusEscrowed.Valid() {
		t.Error("escrowed must validate")
	}
}
