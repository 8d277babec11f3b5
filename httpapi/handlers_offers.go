package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"escrowflow/offer"
)

type createOfferRequest struct {
	OfferType string          `json:"offer_type"`
	Rate      decimal.Decimal `json:"rate"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.offers.ListActive(r.Context(), r.URL.Query().Get("type"), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponses(offers))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.offers.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) handleListMyOffers(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	offers, err := s.offers.ListMine(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponses(offers))
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req createOfferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.offers.Create(r.Context(), p, offer.CreateParams{
		OfferType: req.OfferType,
		Rate:      req.Rate,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferResponse(o))
}

func (s *Server) handleToggleOffer(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	o, err := s.offers.ToggleActive(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}
