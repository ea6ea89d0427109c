package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"secure-fields/internal/crypto"
	"secure-fields/internal/field"
	"secure-fields/internal/policy"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

// sanitizeError maps internal failures onto client-safe responses. Raw
// cryptographic detail never reaches the wire.
func sanitizeError(err error) (int, string) {
	switch {
	case errors.Is(err, field.ErrUnknownField):
		return http.StatusNotFound, "unknown field"
	case errors.Is(err, field.ErrBadFormat):
		return http.StatusBadRequest, "value violates format constraint"
	case errors.Is(err, policy.ErrUnauthorized):
		return http.StatusForbidden, "not allowed"
	case errors.Is(err, crypto.ErrDecrypt):
		return http.StatusInternalServerError, "cannot decrypt value"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
