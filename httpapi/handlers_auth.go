package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"escrowflow/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  toUserResponse(&result.User),
	})
}

func (s *Server) handleGetMerchant(w http.ResponseWriter, r *http.Request) {
	p, err := s.merchants.GetByUserID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMerchantResponse(p))
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	items, err := s.feed.ListForRecipient(r.Context(), p.UserID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponses(items))
}

// queryLimit parses the optional limit parameter, clamped to a page.
func queryLimit(r *http.Request) int {
	const defaultLimit = 50
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 200 {
		return defaultLimit
	}
	return n
}
