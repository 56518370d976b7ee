package server

import (
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"encoding/json"
	"errors"
	"net/http"
)

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("missing or invalid X-User-ID")
	errHalted       = errors.New("service halted")
)

// statusFor maps domain errors to HTTP statuses. Unknown errors are 500
// and their text is not exposed.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrSeedNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPositionNotOpen),
		errors.Is(err, model.ErrAlreadyRevealed),
		errors.Is(err, model.ErrRoundNotEnded),
		errors.Is(err, model.ErrSeedActive),
		errors.Is(err, model.ErrBetSettled):
		return http.StatusConflict
	case errors.Is(err, errHalted),
		errors.Is(err, model.ErrNoActiveRound),
		errors.Is(err, model.ErrStalePrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidSymbolOrLeverage),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrUnknownCurrency),
		errors.Is(err, model.ErrInvalidGame),
		errors.Is(err, model.ErrFaucetMainnet),
		errors.Is(err, fpmath.ErrExcessPrecision),
		errors.Is(err, fpmath.ErrOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, err error) {
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, Code: code})
}
