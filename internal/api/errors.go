package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/solshield/ledger/internal/errcode"
)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Number int    `json:"number,omitempty"`
}

// statusOf maps a ledger error to an HTTP status.
func statusOf(e *errcode.Error) int {
	switch e.Code {
	case errcode.Unauthenticated:
		return http.StatusUnauthorized
	case errcode.NotFound:
		return http.StatusNotFound
	case errcode.AlreadyExists:
		return http.StatusConflict
	case errcode.RebalanceCooldown:
		return http.StatusTooManyRequests
	case errcode.ArithmeticOverflow:
		return http.StatusInternalServerError
	}
	switch e.Class {
	case errcode.ClassAuthorization:
		return http.StatusForbidden
	case errcode.ClassValidation:
		return http.StatusBadRequest
	case errcode.ClassState, errcode.ClassPolicy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response. Errors outside the ledger
// taxonomy are logged and reported as internal.
func writeError(w http.ResponseWriter, err error) {
	e, ok := errcode.As(err)
	if !ok {
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: "internal error",
			Code:  string(errcode.Internal),
		})
		return
	}
	writeJSON(w, statusOf(e), errorBody{
		Error:  e.Message,
		Code:   string(e.Code),
		Number: e.Number,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
