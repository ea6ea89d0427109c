package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"secure-fields/internal/audit"
	"secure-fields/internal/auth"
	"secure-fields/internal/field"
	"secure-fields/internal/policy"
)

type revealResponse struct {
	Plaintext string `json:"plaintext"`
	ExpiresIn int    `json:"expires_in"`
}

type saveRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no auth context")
		return
	}

	fieldID, op, ok := fieldOp(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if !s.rlField.allow(fieldID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	def, err := s.registry.Lookup(fieldID)
	if err != nil {
		code, msg := sanitizeError(err)
		writeError(w, code, msg)
		return
	}

	// Capability check precedes any read or cryptographic work.
	if !s.accessFor(claims, def).Allows(def.Context) {
		s.auditLog.Append(audit.EventDenied, claims.Sub, def.ID)
		s.logger.WithFields(map[string]any{
			"field": def.ID,
			"actor": claims.Sub,
		}).Warn("reveal denied")
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	switch op {
	case "reveal":
		s.handleReveal(w, r, claims, def)
	case "save":
		s.handleSave(w, r, claims, def)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request, claims *auth.Claims, def field.Definition) {
	if !s.rlRevealIP.allow(getClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	stored, err := s.values.Get(r.Context(), def.ID)
	if err != nil {
		s.logger.WithField("field", def.ID).WithError(err).Error("value load failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	plaintext, err := policy.DecryptForContext(s.codec, stored, def.Context)
	if err != nil {
		s.logger.WithField("field", def.ID).WithError(err).Error("decrypt failed")
		code, msg := sanitizeError(err)
		writeError(w, code, msg)
		return
	}

	s.auditLog.Append(audit.EventReveal, claims.Sub, def.ID)
	writeJSON(w, revealResponse{
		Plaintext: plaintext,
		ExpiresIn: int(s.cfg.RevealTTL.Seconds()),
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, claims *auth.Claims, def field.Definition) {
	if !s.rlSaveIP.allow(getClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	stored := req.Value
	// An unedited passthrough that is already a valid envelope is stored
	// as-is; everything else is validated and sealed fresh.
	if !s.codec.IsEncryptedValue(stored) && stored != "" {
		if err := def.Validate(stored); err != nil {
			code, msg := sanitizeError(err)
			writeError(w, code, msg)
			return
		}
		var err error
		stored, err = s.codec.Encrypt(stored)
		if err != nil {
			s.logger.WithField("field", def.ID).WithError(err).Error("encrypt failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	if err := s.values.Put(r.Context(), def.ID, stored); err != nil {
		s.logger.WithField("field", def.ID).WithError(err).Error("value store failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.auditLog.Append(audit.EventSave, claims.Sub, def.ID)
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleSecurityCheck(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.MustClaims(r)
	if err != nil || !claims.Has(auth.CapManage) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}
	writeJSON(w, s.keys.SecurityCheck())
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil || !claims.Has(auth.CapManage) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}
	force := strings.EqualFold(r.URL.Query().Get("force"), "true")
	rotated, err := s.keys.Rotate(force)
	if err != nil {
		s.logger.WithError(err).Error("rotation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rotated {
		s.auditLog.Append(audit.EventRotate, claims.Sub, "")
	}
	writeJSON(w, map[string]bool{"rotated": rotated})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.MustClaims(r)
	if err != nil || !claims.Has(auth.CapManage) {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}
	writeJSON(w, s.auditLog.Entries())
}

func (s *Server) accessFor(claims *auth.Claims, def field.Definition) policy.Access {
	return policy.Access{
		IsAdmin: func() bool { return claims.Has(auth.CapManage) },
		IsOwner: func() bool { return s.ownerOK(claims, def) },
	}
}
