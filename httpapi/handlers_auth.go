package httpapi

import (
	"encoding/json"
	"net/http"

	stackauth "github.com/yonasBSD/stack-sub000"
)

type authResponse struct {
	User         *stackauth.User   `json:"user"`
	Outcome      stackauth.Outcome `json:"outcome"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	IsNewUser    bool              `json:"is_new_user"`
}

// finishAuth runs the resolver on a verified event and opens a session.
// Both ride the same transaction: a failed session write must not leave
// a committed user behind.
func (s *Server) finishAuth(w http.ResponseWriter, r *http.Request, rc stackauth.RequestContext, ev stackauth.AuthenticationEvent) {
	var (
		resolution *stackauth.Resolution
		pair       stackauth.TokenPair
	)
	err := s.Store.InTransaction(r.Context(), func(tx stackauth.Store) error {
		var err error
		resolution, err = s.Resolver.WithStore(tx).Resolve(r.Context(), rc, ev)
		if err != nil {
			return err
		}
		_, pair, err = s.Sessions.WithStore(tx).Create(r.Context(), rc, resolution.User, stackauth.CreateSessionOptions{
			ExpiresIn: s.SessionTTL,
		})
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Metrics.RecordSignIn(ev.Method, resolution.Outcome)
	writeJSON(w, http.StatusOK, authResponse{
		User:         resolution.User,
		Outcome:      resolution.Outcome,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		IsNewUser:    resolution.Outcome == stackauth.OutcomeCreated,
	})
}

func (s *Server) handlePasswordSignIn(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, stackauth.ErrInvalidCredentials)
		return
	}
	ev, err := s.Password.SignIn(r.Context(), rc, req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAuth(w, r, rc, ev)
}

func (s *Server) handlePasswordSignUp(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, stackauth.ErrInvalidCredentials)
		return
	}
	ev, err := s.Password.SignUp(r.Context(), rc, req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ev.PreferredDisplayName = req.DisplayName
	s.finishAuth(w, r, rc, ev)
}

func (s *Server) handlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, stackauth.ErrInvalidCredentials)
		return
	}
	if err := s.Password.Update(r.Context(), rc, rc.Caller.UserID, req.OldPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePasswordSet(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	// Setting without the old password is a privileged operation unless
	// the user never had one.
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, stackauth.ErrInvalidCredentials)
		return
	}
	if rc.AccessType == stackauth.AccessClient {
		user, err := s.Store.GetUser(r.Context(), rc.ProjectID, rc.Caller.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if user == nil {
			s.writeError(w, r, stackauth.ErrUserNotFound)
			return
		}
		if user.HasPassword() {
			s.writeError(w, r, stackauth.ErrInsufficientAccessType)
			return
		}
	}
	if err := s.Password.Set(r.Context(), rc, rc.Caller.UserID, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "EMAIL_REQUIRED", Error: "An email address is required."})
		return
	}
	if err := s.OTP.SendSignInCode(r.Context(), rc, req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleOTPSignIn(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		s.writeError(w, r, stackauth.ErrVerificationCodeNotFound)
		return
	}
	ev, err := s.OTP.SignIn(r.Context(), rc, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAuth(w, r, rc, ev)
}

func (s *Server) handleAnonymousSignUp(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	s.finishAuth(w, r, rc, stackauth.AnonymousEvent())
}

func (s *Server) handlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	options, flowID, err := s.Passkey.BeginRegistration(r.Context(), rc, rc.Caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"options": json.RawMessage(options),
		"flow_id": flowID,
	})
}

func (s *Server) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		FlowID   string          `json:"flow_id"`
		Response json.RawMessage `json:"response"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, stackauth.ErrPasskeyVerificationFailed)
		return
	}
	if err := s.Passkey.FinishRegistration(r.Context(), rc, req.FlowID, req.Response); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePasskeySignInBegin(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	options, flowID, err := s.Passkey.BeginSignIn(r.Context(), rc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"options": json.RawMessage(options),
		"flow_id": flowID,
	})
}

func (s *Server) handlePasskeySignInFinish(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		FlowID   string          `json:"flow_id"`
		Response json.RawMessage `json:"response"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, stackauth.ErrPasskeyVerificationFailed)
		return
	}
	ev, err := s.Passkey.FinishSignIn(r.Context(), rc, req.FlowID, req.Response)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAuth(w, r, rc, ev)
}
