package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Headers asserted to the services behind the gateway.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRoles = "X-User-Roles"
	HeaderRequestID = "X-Request-ID"
)

// MockAuthMiddleware stands in for token validation. A bearer token of the
// form "<user id>" or "<user id>:<ROLE,ROLE>" becomes the asserted identity;
// no token means a guest. Identity headers sent by the client are always
// discarded so they cannot be spoofed.
func MockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderUserRoles)

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok {
			userID, roles, _ := strings.Cut(strings.TrimSpace(token), ":")
			if userID != "" {
				r.Header.Set(HeaderUserID, userID)
			}
			if roles != "" {
				r.Header.Set(HeaderUserRoles, strings.ToUpper(roles))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequestIDMiddleware forwards chi's request id to upstreams and echoes it
// back to the caller.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			r.Header.Set(HeaderRequestID, requestID)
			w.Header().Set(HeaderRequestID, requestID)
		}
		next.ServeHTTP(w, r)
	})
}

const RoleAdmin = "ADMIN"

// RequireRole answers 403 unless the asserted roles include role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, have := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
				if strings.EqualFold(strings.TrimSpace(have), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"role ` + role + ` required","code":"forbidden"}`))
		})
	}
}
