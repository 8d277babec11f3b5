package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"escrowflow/order"
)

type createOrderRequest struct {
	OfferID string          `json:"offer_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type paymentProofRequest struct {
	TransactionID  string `json:"transaction_id"`
	BeforeProofRef string `json:"before_proof_ref"`
	AfterProofRef  string `json:"after_proof_ref"`
	Confirmation   string `json:"confirmation"`
}

type deliveryProofRequest struct {
	TransactionID    string `json:"transaction_id"`
	RecipientAddress string `json:"recipient_address"`
	ProofRef         string `json:"proof_ref"`
	Confirmation     string `json:"confirmation"`
}

type rejectPaymentRequest struct {
	Reason string `json:"reason"`
}

type rateOrderRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orders.Create(r.Context(), p, order.CreateParams{
		OfferID: req.OfferID,
		Amount:  req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	orders, err := s.orders.List(r.Context(), p, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	o, err := s.orders.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// fetchAfterTransition re-reads the order so mutating endpoints return the
// fresh state instead of an empty body.
func (s *Server) fetchAfterTransition(w http.ResponseWriter, r *http.Request, orderID string) {
	p, _ := PrincipalFrom(r.Context())
	o, err := s.orders.Get(r.Context(), p, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.orders.Confirm(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handlePaymentProof(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	var req paymentProofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.orders.UploadPaymentProof(r.Context(), p, order.PaymentProofParams{
		OrderID:        id,
		TransactionID:  req.TransactionID,
		BeforeProofRef: req.BeforeProofRef,
		AfterProofRef:  req.AfterProofRef,
		Confirmation:   req.Confirmation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleApprovePayment(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.orders.ApprovePayment(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleRejectPayment(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	var req rejectPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.orders.RejectPayment(r.Context(), p, id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.orders.StartProcessing(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleDeliveryProof(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	var req deliveryProofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.orders.UploadDeliveryProof(r.Context(), p, order.DeliveryProofParams{
		OrderID:          id,
		TransactionID:    req.TransactionID,
		RecipientAddress: req.RecipientAddress,
		ProofRef:         req.ProofRef,
		Confirmation:     req.Confirmation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleConfirmReceived(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.orders.ConfirmReceived(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.orders.Cancel(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	s.fetchAfterTransition(w, r, id)
}

func (s *Server) handleRateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req rateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rating, err := s.orders.Rate(r.Context(), p, order.RateParams{
		OrderID: chi.URLParam(r, "id"),
		Score:   req.Score,
		Comment: req.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ratingResponse{
		ID:        rating.ID,
		OrderID:   rating.OrderID,
		Score:     rating.Score,
		Comment:   rating.Comment,
		CreatedAt: rating.CreatedAt,
	})
}
