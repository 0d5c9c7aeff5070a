// Package middleware provides HTTP middleware for the portal backend.
//
// The portal sits behind an authenticating gateway. The gateway verifies
// credentials and forwards the caller's identity in trusted headers; the
// middleware here turns those headers into a Session on the request context.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/peopleops/portal/pkg/contextkeys"
	"github.com/peopleops/portal/pkg/httputil"
)

// Identity headers set by the gateway.
const (
	UserHeader     = "X-Portal-User"
	TenantHeader   = "X-Portal-Tenant"
	DemoRoleHeader = "X-Portal-Demo-Role"
)

// Session describes the authenticated caller for one request.
//
// Exactly one of the two shapes is populated: a real user carries UserID and
// TenantID, a demo visitor carries only DemoRole. Demo sessions never touch
// tenant data.
type Session struct {
	UserID   string
	TenantID string
	DemoRole string
}

// IsDemo reports whether this is a demo session
func (s *Session) IsDemo() bool {
	return s.DemoRole != ""
}

// SessionMiddleware extracts the caller identity from gateway headers
type SessionMiddleware struct {
	// demoEnabled controls whether demo-role headers are honored.
	// When false a demo header is treated as an unauthenticated request.
	demoEnabled bool
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(demoEnabled bool) *SessionMiddleware {
	return &SessionMiddleware{demoEnabled: demoEnabled}
}

// Handler wraps an HTTP handler with session extraction
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		tenantID := r.Header.Get(TenantHeader)
		demoRole := r.Header.Get(DemoRoleHeader)

		var session *Session
		switch {
		case m.demoEnabled && demoRole != "":
			session = &Session{DemoRole: demoRole}
		case userID != "" && tenantID != "":
			session = &Session{UserID: userID, TenantID: tenantID}
		default:
			httputil.WriteUnauthorized(w, "missing identity headers")
			return
		}

		ctx := contextkeys.WithSession(r.Context(), session)
		if session.UserID != "" {
			ctx = contextkeys.WithUserID(ctx, session.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession extracts the session from the request context
func GetSession(r *http.Request) *Session {
	v := r.Context().Value(contextkeys.SessionKey)
	if v == nil {
		return nil
	}
	session, ok := v.(*Session)
	if !ok {
		return nil
	}
	return session
}

// RequestIDMiddleware assigns each request a UUID, honoring an inbound
// X-Request-ID from the gateway when present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
