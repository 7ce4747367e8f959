package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	stackauth "github.com/yonasBSD/stack-sub000"
)

// handleJWKS serves the project's public keys. Anonymous-user keys are
// omitted unless include_anonymous=true, so default verifiers reject
// anonymous tokens by construction.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	includeAnonymous := r.URL.Query().Get("include_anonymous") == "true"
	writeJSON(w, http.StatusOK, s.Codec.JWKS(includeAnonymous))
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	user, err := s.Store.GetUser(r.Context(), rc.ProjectID, rc.Caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user == nil {
		s.writeError(w, r, stackauth.ErrUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCurrentUserDelete(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	err := s.Store.InTransaction(r.Context(), func(tx stackauth.Store) error {
		user, err := tx.GetUser(r.Context(), rc.ProjectID, rc.Caller.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return stackauth.ErrUserNotFound
		}
		// DeleteUser cascades over the user's channels, links, sessions
		// and passkeys, so the address is free to sign up again.
		return tx.DeleteUser(r.Context(), rc.ProjectID, user.ID)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleServerCreateUser provisions a user with server credentials.
// This bypasses the sign-up policy: provisioning is an operator
// action, not a self-serve sign-up.
func (s *Server) handleServerCreateUser(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		PrimaryEmail         string `json:"primary_email"`
		Password             string `json:"password"`
		DisplayName          string `json:"display_name"`
		PrimaryEmailVerified bool   `json:"primary_email_verified"`
	}
	if err := decodeBody(r, &req); err != nil || req.PrimaryEmail == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "EMAIL_REQUIRED", Error: "A primary email is required."})
		return
	}

	ev := stackauth.AuthenticationEvent{
		Method:               stackauth.MethodPassword,
		ContactType:          stackauth.ContactEmail,
		ContactValue:         req.PrimaryEmail,
		NormalizedValue:      stackauth.NormalizeEmail(req.PrimaryEmail),
		VerifiedByProvider:   req.PrimaryEmailVerified,
		PreferredDisplayName: req.DisplayName,
	}
	if req.Password != "" {
		if len(req.Password) < stackauth.MinPasswordLength {
			s.writeError(w, r, stackauth.ErrPasswordRequirementsNotMet)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ev.NewPasswordHash = string(hash)
	}

	// Server provisioning ignores the project's sign-up switch.
	rc.Policy.AllowSignUp = true
	rc.Caller = nil
	resolution, err := s.Resolver.Resolve(r.Context(), rc, ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resolution.User)
}

// handleServerCreateSession opens a session for an arbitrary user,
// optionally marked as impersonation.
func (s *Server) handleServerCreateSession(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	userID := mux.Vars(r)["userId"]
	var req struct {
		ExpiresInMillis int64 `json:"expires_in_millis"`
		IsImpersonation bool  `json:"is_impersonation"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Error: "Malformed request body."})
		return
	}
	user, err := s.Store.GetUser(r.Context(), rc.ProjectID, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user == nil {
		s.writeError(w, r, stackauth.ErrUserNotFound)
		return
	}
	_, pair, err := s.Sessions.Create(r.Context(), rc, user, stackauth.CreateSessionOptions{
		ExpiresIn:       time.Duration(req.ExpiresInMillis) * time.Millisecond,
		IsImpersonation: req.IsImpersonation,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}
