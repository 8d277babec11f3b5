package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"escrowflow/dispute"
)

type openDisputeRequest struct {
	Reason    string `json:"reason"`
	Statement string `json:"statement"`
}

type disputeStatementRequest struct {
	Statement string `json:"statement"`
}

type resolveDisputeRequest struct {
	Resolution dispute.Resolution `json:"resolution"`
	Notes      string             `json:"notes"`
}

type closeDisputeRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req openDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.disputes.Create(r.Context(), p, dispute.CreateParams{
		OrderID:   chi.URLParam(r, "id"),
		Reason:    req.Reason,
		Statement: req.Statement,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	records, err := s.disputes.List(r.Context(), p, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponses(records))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	d, err := s.disputes.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleDisputeStatement(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	var req disputeStatementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.disputes.AddMerchantStatement(r.Context(), p, id, req.Statement); err != nil {
		writeError(w, err)
		return
	}
	s.fetchDispute(w, r, id)
}

func (s *Server) handleDisputeReview(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.disputes.StartReview(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	s.fetchDispute(w, r, id)
}

func (s *Server) handleDisputeResolve(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req resolveDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.disputes.Resolve(r.Context(), p, dispute.ResolveParams{
		DisputeID:  chi.URLParam(r, "id"),
		Resolution: req.Resolution,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleDisputeClose(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := chi.URLParam(r, "id")
	var req closeDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.disputes.Close(r.Context(), p, id, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	s.fetchDispute(w, r, id)
}

func (s *Server) fetchDispute(w http.ResponseWriter, r *http.Request, id string) {
	p, _ := PrincipalFrom(r.Context())
	d, err := s.disputes.Get(r.Context(), p, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}
