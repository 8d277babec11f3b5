package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/merchant"
	"escrowflow/offer"
	"escrowflow/order"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps domain errors onto HTTP statuses. Every service surfaces
// the same taxonomy: not-found, forbidden, state conflict, validation.
func writeError(w http.ResponseWriter, err error) {
	var (
		orderValidation   *order.ValidationError
		offerValidation   *offer.ValidationError
		disputeValidation *dispute.ValidationError
		cooldown          *offer.CooldownError
	)

	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, offer.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, merchant.ErrProfileNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())

	case errors.Is(err, order.ErrForbidden),
		errors.Is(err, offer.ErrForbidden),
		errors.Is(err, dispute.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeErrorMessage(w, http.StatusUnauthorized, err.Error())

	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrDisputed),
		errors.Is(err, order.ErrAlreadyRated),
		errors.Is(err, order.ErrOfferInactive),
		errors.Is(err, offer.ErrActiveOfferExists),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, dispute.ErrAlreadyExists),
		errors.Is(err, dispute.ErrOrderNotDisputable),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.As(err, &cooldown):
		writeErrorMessage(w, http.StatusConflict, err.Error())

	case errors.Is(err, auth.ErrWeakPassword),
		errors.As(err, &orderValidation),
		errors.As(err, &offerValidation),
		errors.As(err, &disputeValidation):
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())

	default:
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
