package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule holds the rates applied when splitting a completed order's
// gross payment. The gateway leg is charged twice, once on the buyer's
// payment in and once on the merchant's payout.
type FeeSchedule struct {
	GatewayRate  decimal.Decimal
	GatewayFixed decimal.Decimal
	PlatformRate decimal.Decimal
}

// DefaultFeeSchedule matches the PayPal-style 2.9% + $0.30 per leg with a 1%
// platform commission on the net inflow.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		GatewayRate:  decimal.NewFromFloat(0.029),
		GatewayFixed: decimal.NewFromFloat(0.30),
		PlatformRate: decimal.NewFromFloat(0.01),
	}
}

// Settlement is the four-way split of a completed order's gross payment.
// All fields are exact decimals; the identity
//
//	GrossIn = PaypalFeeIn + PlatformFee + PaypalFeeOut + MerchantNetFinal
//
// holds without rounding.
type Settlement struct {
	GrossIn            decimal.Decimal
	PaypalFeeIn        decimal.Decimal
	NetIn              decimal.Decimal
	PlatformFee        decimal.Decimal
	MerchantReceivable decimal.Decimal
	PaypalFeeOut       decimal.Decimal
	MerchantNetFinal   decimal.Decimal
}

// CalculateSettlement splits grossIn across the two gateway legs, the
// platform commission, and the merchant payout. Pure function, called once
// when an order completes (buyer confirmation or merchant-favored dispute
// resolution).
func CalculateSettlement(grossIn decimal.Decimal, fees FeeSchedule) (Settlement, error) {
	if !grossIn.IsPositive() {
		return Settlement{}, fmt.Errorf("order: settlement requires positive gross amount, got %s", grossIn)
	}

	feeIn := grossIn.Mul(fees.GatewayRate).Add(fees.GatewayFixed)
	netIn := grossIn.Sub(feeIn)
	platformFee := netIn.Mul(fees.PlatformRate)
	receivable := netIn.Sub(platformFee)
	feeOut := receivable.Mul(fees.GatewayRate).Add(fees.GatewayFixed)
	netFinal := receivable.Sub(feeOut)

	return Settlement{
		GrossIn:            grossIn,
		PaypalFeeIn:        feeIn,
		NetIn:              netIn,
		PlatformFee:        platformFee,
		MerchantReceivable: receivable,
		PaypalFeeOut:       feeOut,
		MerchantNetFinal:   netFinal,
	}, nil
}
