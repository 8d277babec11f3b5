package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/merchant"
	"escrowflow/notify"
	"escrowflow/offer"
	"escrowflow/order"
)

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        auth.Role `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type offerResponse struct {
	ID           string          `json:"id"`
	MerchantID   string          `json:"merchant_id"`
	OfferType    string          `json:"offer_type"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	return offerResponse{
		ID:           o.ID,
		MerchantID:   o.MerchantID,
		OfferType:    o.OfferType,
		ExchangeRate: o.ExchangeRate,
		MinAmount:    o.MinAmount,
		MaxAmount:    o.MaxAmount,
		IsActive:     o.IsActive,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func toOfferResponses(offers []offer.Offer) []offerResponse {
	out := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		out = append(out, toOfferResponse(o))
	}
	return out
}

type settlementResponse struct {
	GrossIn            decimal.Decimal `json:"gross_in"`
	PaypalFeeIn        decimal.Decimal `json:"paypal_fee_in"`
	NetIn              decimal.Decimal `json:"net_in"`
	PlatformFee        decimal.Decimal `json:"platform_fee"`
	MerchantReceivable decimal.Decimal `json:"merchant_receivable"`
	PaypalFeeOut       decimal.Decimal `json:"paypal_fee_out"`
	MerchantNetFinal   decimal.Decimal `json:"merchant_net_final"`
}

type orderResponse struct {
	ID           string          `json:"id"`
	BuyerID      string          `json:"buyer_id"`
	MerchantID   string          `json:"merchant_id"`
	OfferID      string          `json:"offer_id"`
	Amount       decimal.Decimal `json:"amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       order.Status    `json:"status"`

	PaymentTxnID       *string `json:"payment_txn_id,omitempty"`
	PaymentProofBefore *string `json:"payment_proof_before,omitempty"`
	PaymentProofAfter  *string `json:"payment_proof_after,omitempty"`
	PaymentNote        *string `json:"payment_note,omitempty"`

	DeliveryTxnID    *string `json:"delivery_txn_id,omitempty"`
	DeliveryProofRef *string `json:"delivery_proof_ref,omitempty"`
	RecipientAddress *string `json:"recipient_address,omitempty"`
	DeliveryNote     *string `json:"delivery_note,omitempty"`

	BuyerConfirmedReceived bool    `json:"buyer_confirmed_received"`
	RejectionReason        *string `json:"rejection_reason,omitempty"`

	Settlement *settlementResponse `json:"settlement,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:                     o.ID,
		BuyerID:                o.BuyerID,
		MerchantID:             o.MerchantID,
		OfferID:                o.OfferID,
		Amount:                 o.Amount,
		ExchangeRate:           o.ExchangeRate,
		TotalAmount:            o.TotalAmount,
		Status:                 o.Status,
		PaymentTxnID:           o.PaymentTxnID,
		PaymentProofBefore:     o.PaymentProofBefore,
		PaymentProofAfter:      o.PaymentProofAfter,
		PaymentNote:            o.PaymentNote,
		DeliveryTxnID:          o.DeliveryTxnID,
		DeliveryProofRef:       o.DeliveryProofRef,
		RecipientAddress:       o.RecipientAddress,
		DeliveryNote:           o.DeliveryNote,
		BuyerConfirmedReceived: o.BuyerConfirmedReceived,
		RejectionReason:        o.RejectionReason,
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
		CompletedAt:            o.CompletedAt,
		CancelledAt:            o.CancelledAt,
	}
	if s := o.Settlement; s != nil {
		resp.Settlement = &settlementResponse{
			GrossIn:            s.GrossIn,
			PaypalFeeIn:        s.PaypalFeeIn,
			NetIn:              s.NetIn,
			PlatformFee:        s.PlatformFee,
			MerchantReceivable: s.MerchantReceivable,
			PaypalFeeOut:       s.PaypalFeeOut,
			MerchantNetFinal:   s.MerchantNetFinal,
		}
	}
	return resp
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type ratingResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type disputeResponse struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"order_id"`
	BuyerID           string         `json:"buyer_id"`
	Reason            string         `json:"reason"`
	BuyerStatement    string         `json:"buyer_statement"`
	MerchantStatement *string        `json:"merchant_statement,omitempty"`
	Status            dispute.Status `json:"status"`
	AdminNotes        *string        `json:"admin_notes,omitempty"`
	ResolvedBy        *string        `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func toDisputeResponse(d dispute.Record) disputeResponse {
	return disputeResponse{
		ID:                d.ID,
		OrderID:           d.OrderID,
		BuyerID:           d.BuyerID,
		Reason:            d.Reason,
		BuyerStatement:    d.BuyerStatement,
		MerchantStatement: d.MerchantStatement,
		Status:            d.Status,
		AdminNotes:        d.AdminNotes,
		ResolvedBy:        d.ResolvedBy,
		ResolvedAt:        d.ResolvedAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toDisputeResponses(records []dispute.Record) []disputeResponse {
	out := make([]disputeResponse, 0, len(records))
	for _, d := range records {
		out = append(out, toDisputeResponse(d))
	}
	return out
}

type merchantResponse struct {
	UserID          string        `json:"user_id"`
	TotalOrders     int           `json:"total_orders"`
	CompletedOrders int           `json:"completed_orders"`
	RatingCount     int           `json:"rating_count"`
	AverageRating   float64       `json:"average_rating"`
	Tier            merchant.Tier `json:"tier"`
}

func toMerchantResponse(p merchant.Profile) merchantResponse {
	return merchantResponse{
		UserID:          p.UserID,
		TotalOrders:     p.TotalOrders,
		CompletedOrders: p.CompletedOrders,
		RatingCount:     p.RatingCount,
		AverageRating:   p.AverageRating,
		Tier:            p.Tier,
	}
}

type notificationResponse struct {
	ID        string        `json:"id"`
	Kind      notify.Kind   `json:"kind"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	Link      string        `json:"link,omitempty"`
	Status    notify.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

func toNotificationResponses(items []notify.Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, notificationResponse{
			ID:        n.ID,
			Kind:      n.Kind,
			Title:     n.Title,
			Body:      n.Body,
			Link:      n.Link,
			Status:    n.Status,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
