package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/merchant"
	"escrowflow/notify"
	"escrowflow/offer"
	"escrowflow/order"
)

// AuthService is the account surface the router needs.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Principal, error)
}

// OfferService is the marketplace listing surface.
type OfferService interface {
	GetByID(ctx context.Context, id string) (offer.Offer, error)
	ListActive(ctx context.Context, offerType string, limit int) ([]offer.Offer, error)
	ListMine(ctx context.Context, p auth.Principal) ([]offer.Offer, error)
	Create(ctx context.Context, p auth.Principal, params offer.CreateParams) (offer.Offer, error)
	ToggleActive(ctx context.Context, p auth.Principal, offerID string) (offer.Offer, error)
}

// OrderService is the order lifecycle surface.
type OrderService interface {
	Get(ctx context.Context, p auth.Principal, id string) (order.Order, error)
	List(ctx context.Context, p auth.Principal, limit int) ([]order.Order, error)
	Create(ctx context.Context, p auth.Principal, params order.CreateParams) (order.Order, error)
	Confirm(ctx context.Context, p auth.Principal, orderID string) error
	UploadPaymentProof(ctx context.Context, p auth.Principal, params order.PaymentProofParams) error
	ApprovePayment(ctx context.Context, p auth.Principal, orderID string) error
	RejectPayment(ctx context.Context, p auth.Principal, orderID, reason string) error
	StartProcessing(ctx context.Context, p auth.Principal, orderID string) error
	UploadDeliveryProof(ctx context.Context, p auth.Principal, params order.DeliveryProofParams) error
	ConfirmReceived(ctx context.Context, p auth.Principal, orderID string) error
	Cancel(ctx context.Context, p auth.Principal, orderID string) error
	Rate(ctx context.Context, p auth.Principal, params order.RateParams) (order.Rating, error)
}

// DisputeService is the arbitration surface.
type DisputeService interface {
	Get(ctx context.Context, p auth.Principal, id string) (dispute.Record, error)
	List(ctx context.Context, p auth.Principal, limit int) ([]dispute.Record, error)
	Create(ctx context.Context, p auth.Principal, params dispute.CreateParams) (dispute.Record, error)
	AddMerchantStatement(ctx context.Context, p auth.Principal, disputeID, statement string) error
	StartReview(ctx context.Context, p auth.Principal, disputeID string) error
	Resolve(ctx context.Context, p auth.Principal, params dispute.ResolveParams) (dispute.Record, error)
	Close(ctx context.Context, p auth.Principal, disputeID, notes string) error
}

// MerchantDirectory exposes public merchant reputation.
type MerchantDirectory interface {
	GetByUserID(ctx context.Context, userID string) (merchant.Profile, error)
}

// NotificationReader exposes a user's notification feed.
type NotificationReader interface {
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error)
}

// Server bundles the domain services behind one chi router.
type Server struct {
	auth      AuthService
	offers    OfferService
	orders    OrderService
	disputes  DisputeService
	merchants MerchantDirectory
	feed      NotificationReader
}

func NewServer(a AuthService, of OfferService, ord OrderService, d DisputeService, m MerchantDirectory, feed NotificationReader) *Server {
	return &Server{auth: a, offers: of, orders: ord, disputes: d, merchants: m, feed: feed}
}

// Router assembles the middleware stack and the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Get("/offers", s.handleListOffers)
	r.Get("/offers/{id}", s.handleGetOffer)
	r.Get("/merchants/{userID}", s.handleGetMerchant)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(s.auth))

		r.Post("/offers", s.handleCreateOffer)
		r.Post("/offers/{id}/toggle", s.handleToggleOffer)
		r.Get("/me/offers", s.handleListMyOffers)
		r.Get("/me/notifications", s.handleListNotifications)

		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders", s.handleListOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Post("/orders/{id}/confirm", s.handleConfirmOrder)
		r.Post("/orders/{id}/payment-proof", s.handlePaymentProof)
		r.Post("/orders/{id}/approve-payment", s.handleApprovePayment)
		r.Post("/orders/{id}/reject-payment", s.handleRejectPayment)
		r.Post("/orders/{id}/start-processing", s.handleStartProcessing)
		r.Post("/orders/{id}/delivery-proof", s.handleDeliveryProof)
		r.Post("/orders/{id}/confirm-received", s.handleConfirmReceived)
		r.Post("/orders/{id}/cancel", s.handleCancelOrder)
		r.Post("/orders/{id}/rate", s.handleRateOrder)
		r.Post("/orders/{id}/dispute", s.handleOpenDispute)

		r.Get("/disputes", s.handleListDisputes)
		r.Get("/disputes/{id}", s.handleGetDispute)
		r.Post("/disputes/{id}/statement", s.handleDisputeStatement)
		r.Post("/disputes/{id}/review", s.handleDisputeReview)
		r.Post("/disputes/{id}/resolve", s.handleDisputeResolve)
		r.Post("/disputes/{id}/close", s.handleDisputeClose)
	})

	return r
}

// NewHTTPServer wraps the router in an http.Server with sane timeouts.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
