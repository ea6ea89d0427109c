package server

import (
	"net/http"

	"secure-fields/internal/auth"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.Handle("/secure-fields/", csrfPOST(http.HandlerFunc(s.handleField)))

	s.mux.HandleFunc("/secure-keys/check", s.handleSecurityCheck)
	s.mux.Handle("/secure-keys/rotate", csrfPOST(http.HandlerFunc(s.handleRotate)))
	s.mux.HandleFunc("/secure-keys/audit", s.handleAudit)
}

// csrfPOST applies the anti-forgery check to state-changing methods only.
func csrfPOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			auth.CSRFRequired(next).ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
