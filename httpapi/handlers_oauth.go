package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/oauthflow"
)

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	q := r.URL.Query()
	result, err := s.OAuth.Authorize(r.Context(), rc, oauthflow.AuthorizeRequest{
		ProviderID:          mux.Vars(r)["providerId"],
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		// The access token rides a query param here because the provider
		// redirect is cross-site and loses request headers.
		Token: q.Get("token"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, result.Cookie)
	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	cookie, err := r.Cookie(oauthflow.FlowCookieName)
	if err != nil {
		s.writeError(w, r, stackauth.ErrInvalidOAuthState)
		return
	}
	q := r.URL.Query()
	redirect, err := s.OAuth.Callback(r.Context(), rc, cookie.Value, q.Get("state"), q.Get("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Clear the flow cookie; the outer code takes over from here.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthflow.FlowCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (s *Server) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Code         string `json:"code"`
		CodeVerifier string `json:"code_verifier"`
		RedirectURI  string `json:"redirect_uri"`
	}
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		s.writeError(w, r, stackauth.ErrVerificationCodeNotFound)
		return
	}
	result, err := s.OAuth.TokenExchange(r.Context(), rc, req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Metrics.RecordSignIn(stackauth.MethodOAuth, result.Outcome)
	writeJSON(w, http.StatusOK, authResponse{
		User:         result.User,
		Outcome:      result.Outcome,
		AccessToken:  result.TokenPair.AccessToken,
		RefreshToken: result.TokenPair.RefreshToken,
		IsNewUser:    result.Outcome == stackauth.OutcomeCreated,
	})
}
