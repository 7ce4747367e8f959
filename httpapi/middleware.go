package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	stackauth "github.com/yonasBSD/stack-sub000"
)

type ctxKey int

const rcKey ctxKey = 1

// RequestScope returns the request context attached by the middleware.
func RequestScope(r *http.Request) stackauth.RequestContext {
	rc, _ := r.Context().Value(rcKey).(stackauth.RequestContext)
	return rc
}

// withRequestContext resolves the project scope, validates the access
// type's credentials, and decodes the caller's access token when
// present. Everything downstream reads the result from the request
// context instead of headers.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID := r.Header.Get(HeaderProjectID)
		if projectID == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Code:  "PROJECT_ID_REQUIRED",
				Error: "The " + HeaderProjectID + " header is required.",
			})
			return
		}
		cfg, err := s.Projects.ProjectConfig(projectID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		accessType := stackauth.AccessType(r.Header.Get(HeaderAccessType))
		if accessType == "" {
			accessType = stackauth.AccessClient
		}
		switch accessType {
		case stackauth.AccessClient:
		case stackauth.AccessServer:
			if !secretEqual(r.Header.Get(HeaderServerKey), cfg.ServerKey) {
				s.writeError(w, r, stackauth.ErrInsufficientAccessType)
				return
			}
		case stackauth.AccessAdmin:
			if !secretEqual(r.Header.Get(HeaderAdminKey), cfg.AdminKey) {
				s.writeError(w, r, stackauth.ErrInvalidSuperSecretAdminKey)
				return
			}
		default:
			writeJSON(w, http.StatusBadRequest, errorBody{
				Code:  "INVALID_ACCESS_TYPE",
				Error: "The access type must be client, server, or admin.",
			})
			return
		}

		rc := stackauth.RequestContext{
			ProjectID:  projectID,
			Branch:     r.Header.Get(HeaderBranchID),
			AccessType: accessType,
			Policy:     cfg.Policy,
		}
		if raw := r.Header.Get(HeaderAccessToken); raw != "" {
			claims, err := s.Codec.Verify(raw)
			if err != nil {
				s.writeError(w, r, stackauth.ErrTokenInvalid)
				return
			}
			rc.Caller = &stackauth.Caller{
				UserID:      claims.Subject,
				IsAnonymous: claims.IsAnonymous,
				SessionID:   claims.RefreshTokenID,
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rcKey, rc)))
	})
}

func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireUser gates a handler on an authenticated caller.
func (s *Server) requireUser(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestScope(r)
		if rc.Caller == nil {
			s.writeError(w, r, stackauth.ErrTokenInvalid)
			return
		}
		h(w, r)
	})
}

// requireAccess gates a handler on a minimum access type. Admin
// implies server.
func (s *Server) requireAccess(min stackauth.AccessType, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestScope(r)
		if !accessAtLeast(rc.AccessType, min) {
			s.writeError(w, r, stackauth.ErrInsufficientAccessType)
			return
		}
		h(w, r)
	})
}

func accessAtLeast(got, min stackauth.AccessType) bool {
	rank := map[stackauth.AccessType]int{
		stackauth.AccessClient: 0,
		stackauth.AccessServer: 1,
		stackauth.AccessAdmin:  2,
	}
	return rank[got] >= rank[min]
}

// limit applies the per-client rate limiter to a route.
func (s *Server) limit(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow(route, clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Code:  "RATE_LIMITED",
				Error: "Too many attempts. Slow down and try again.",
			})
			return
		}
		h.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
