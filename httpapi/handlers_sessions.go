package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func (s *Server) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	refreshToken := r.Header.Get(HeaderRefreshToken)
	if refreshToken == "" {
		s.writeError(w, r, stackauth.ErrRefreshTokenNotFoundOrExpired)
		return
	}
	accessToken, err := s.Sessions.Refresh(r.Context(), rc, refreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	refreshToken := r.Header.Get(HeaderRefreshToken)
	if refreshToken == "" {
		s.writeError(w, r, stackauth.ErrRefreshTokenNotFoundOrExpired)
		return
	}
	if err := s.Sessions.RevokeByToken(r.Context(), rc.ProjectID, refreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	infos, err := s.Sessions.List(r.Context(), rc.ProjectID, rc.Caller.UserID, r.Header.Get(HeaderRefreshToken))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": infos})
}

func (s *Server) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	sessionID := mux.Vars(r)["sessionId"]
	session, err := s.Store.GetSession(r.Context(), rc.ProjectID, sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if session == nil || session.UserID != rc.Caller.UserID {
		s.writeError(w, r, stackauth.ErrSessionNotFound)
		return
	}
	if err := s.Sessions.Revoke(r.Context(), rc.ProjectID, sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	if err := s.Sessions.RevokeAll(r.Context(), rc.ProjectID, rc.Caller.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
