package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateSettlement_ReferenceScenario(t *testing.T) {
	// Order of amount=100 at rate 1.05: the buyer owes 105.00.
	grossIn := decimal.RequireFromString("105.00")

	st, err := CalculateSettlement(grossIn, DefaultFeeSchedule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expect := map[string][2]decimal.Decimal{
		"paypal_fee_in":       {st.PaypalFeeIn, decimal.RequireFromString("3.345")},
		"net_in":              {st.NetIn, decimal.RequireFromString("101.655")},
		"platform_fee":        {st.PlatformFee, decimal.RequireFromString("1.01655")},
		"merchant_receivable": {st.MerchantReceivable, decimal.RequireFromString("100.63845")},
		"paypal_fee_out":      {st.PaypalFeeOut, decimal.RequireFromString("3.21851505")},
		"merchant_net_final":  {st.MerchantNetFinal, decimal.RequireFromString("97.41993495")},
	}
	for field, pair := range expect {
		if !pair[0].Equal(pair[1]) {
			t.Errorf("%s: got %s want %s", field, pair[0], pair[1])
		}
	}
}

func TestCalculateSettlement_Conservation(t *testing.T) {
	// The split must hand every cent of grossIn to exactly one of the four
	// buckets, with no rounding drift across the chained fee applications.
	amounts := []string{"0.31", "1.00", "10.55", "105.00", "999.99", "12345.67", "0.01"}
	fees := DefaultFeeSchedule()

	for _, raw := range amounts {
		grossIn := decimal.RequireFromString(raw)
		st, err := CalculateSettlement(grossIn, fees)
		if err != nil {
			t.Fatalf("amount %s: unexpected error: %v", raw, err)
		}

		sum := st.PaypalFeeIn.Add(st.PlatformFee).Add(st.PaypalFeeOut).Add(st.MerchantNetFinal)
		if !sum.Equal(grossIn) {
			t.Errorf("amount %s: buckets sum to %s, want %s", raw, sum, grossIn)
		}
		if !st.GrossIn.Equal(grossIn) {
			t.Errorf("amount %s: gross recorded as %s", raw, st.GrossIn)
		}
	}
}

func TestCalculateSettlement_IntermediateIdentities(t *testing.T) {
	st, err := CalculateSettlement(decimal.RequireFromString("250.00"), DefaultFeeSchedule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !st.NetIn.Equal(st.GrossIn.Sub(st.PaypalFeeIn)) {
		t.Errorf("net_in mismatch: %s", st.NetIn)
	}
	if !st.MerchantReceivable.Equal(st.NetIn.Sub(st.PlatformFee)) {
		t.Errorf("merchant_receivable mismatch: %s", st.MerchantReceivable)
	}
	if !st.MerchantNetFinal.Equal(st.MerchantReceivable.Sub(st.PaypalFeeOut)) {
		t.Errorf("merchant_net_final mismatch: %s", st.MerchantNetFinal)
	}
}

func TestCalculateSettlement_RejectsNonPositive(t *testing.T) {
	for _, raw := range []string{"0", "-1", "-0.01"} {
		if _, err := CalculateSettlement(decimal.RequireFromString(raw), DefaultFeeSchedule()); err == nil {
			t.Errorf("amount %s: expected error", raw)
		}
	}
}
