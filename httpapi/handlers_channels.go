package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	channels, err := s.Channels.List(r.Context(), rc, rc.Caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if channels == nil {
		channels = []*stackauth.ContactChannel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": channels})
}

func (s *Server) handleChannelGet(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	ch, err := s.Channels.Get(r.Context(), rc, rc.Caller.UserID, mux.Vars(r)["channelId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleChannelCreate(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Type        string `json:"type"`
		Value       string `json:"value"`
		UsedForAuth bool   `json:"used_for_auth"`
		IsPrimary   bool   `json:"is_primary"`
	}
	if err := decodeBody(r, &req); err != nil || req.Value == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_CONTACT_CHANNEL", Error: "A contact channel value is required."})
		return
	}
	ctype := stackauth.ContactType(req.Type)
	if ctype != stackauth.ContactEmail && ctype != stackauth.ContactPhone {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_CONTACT_CHANNEL", Error: "The contact channel type must be email or phone."})
		return
	}
	ch, err := s.Channels.Create(r.Context(), rc, rc.Caller.UserID, stackauth.CreateChannelOptions{
		Type:        ctype,
		Value:       req.Value,
		UsedForAuth: req.UsedForAuth,
		IsPrimary:   req.IsPrimary,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleChannelUpdate(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Value       *string `json:"value"`
		UsedForAuth *bool   `json:"used_for_auth"`
		IsPrimary   *bool   `json:"is_primary"`
		IsVerified  *bool   `json:"is_verified"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_CONTACT_CHANNEL", Error: "Malformed request body."})
		return
	}
	patch := stackauth.UpdateChannelPatch{
		Value:       req.Value,
		UsedForAuth: req.UsedForAuth,
		IsPrimary:   req.IsPrimary,
	}
	// Flipping is_verified directly requires server access; clients
	// verify through codes.
	if req.IsVerified != nil {
		if rc.AccessType == stackauth.AccessClient {
			s.writeError(w, r, stackauth.ErrInsufficientAccessType)
			return
		}
		patch.IsVerified = req.IsVerified
	}
	ch, err := s.Channels.Update(r.Context(), rc, rc.Caller.UserID, mux.Vars(r)["channelId"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleChannelDelete(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	if err := s.Channels.Delete(r.Context(), rc, rc.Caller.UserID, mux.Vars(r)["channelId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleChannelSendVerification(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	if err := s.Channels.SendVerificationCode(r.Context(), rc, rc.Caller.UserID, mux.Vars(r)["channelId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleChannelVerify(w http.ResponseWriter, r *http.Request) {
	rc := RequestScope(r)
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		s.writeError(w, r, stackauth.ErrVerificationCodeNotFound)
		return
	}
	ch, err := s.Channels.Verify(r.Context(), rc, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
