package api

import (
	"net/http"
	"strings"
)

// requireAuth rejects intent requests without a valid bearer token. In dev
// mode a missing header is allowed.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		if authz == "" && s.Auth.Mode == "dev" {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token", r.URL.Path)
			return
		}
		if _, err := s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):])); err != nil {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
