package oauthflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FlowCookieName is the cookie holding the signed inner flow state
// across the provider round trip.
const FlowCookieName = "stack-oauth-inner-state"

// flowState is everything the callback needs to finish the flow. It
// travels in a signed cookie instead of server storage, so the
// callback can land on any instance.
type flowState struct {
	ProviderID    string `json:"provider_id"`
	InnerState    string `json:"inner_state"`
	RedirectURI   string `json:"redirect_uri"`
	ClientState   string `json:"client_state,omitempty"`
	CodeChallenge string `json:"code_challenge,omitempty"`
	UpgradeUserID string `json:"upgrade_user_id,omitempty"`
	ExpiresAt     int64  `json:"expires_at"`
}

// signFlowState serializes and MACs the state: base64url(payload).base64url(mac).
func signFlowState(secret []byte, st flowState) (string, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// verifyFlowState checks the MAC and expiry before trusting anything
// inside the cookie.
func verifyFlowState(secret []byte, raw string, now time.Time) (*flowState, error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed flow state")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed flow state payload")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed flow state signature")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("flow state signature mismatch")
	}
	var st flowState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decode flow state: %w", err)
	}
	if now.Unix() > st.ExpiresAt {
		return nil, fmt.Errorf("flow state expired")
	}
	return &st, nil
}
