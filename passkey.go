package stackauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// PasskeyAuth verifies WebAuthn assertions against previously
// registered credentials. Registration requires an existing signed-in
// user; sign-in is discoverable (the authenticator supplies the user
// handle). Begin/finish state is a single-use expiring code, so
// abandoned ceremonies need no cleanup.
type PasskeyAuth struct {
	Store    Store
	WebAuthn *webauthn.WebAuthn
	FlowTTL  time.Duration

	Now func() time.Time
}

func (p *PasskeyAuth) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *PasskeyAuth) flowTTL() time.Duration {
	if p.FlowTTL > 0 {
		return p.FlowTTL
	}
	return 10 * time.Minute
}

const (
	passkeyFlowRegistration = "registration"
	passkeyFlowLogin        = "login"
)

type passkeyFlowState struct {
	Kind    string               `json:"kind"`
	UserID  string               `json:"user_id,omitempty"`
	Session webauthn.SessionData `json:"session"`
}

// passkeyUser adapts a core user plus stored credentials to the
// webauthn.User interface. The user id doubles as the user handle.
type passkeyUser struct {
	user        *User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte { return []byte(u.user.ID) }
func (u *passkeyUser) WebAuthnName() string {
	if u.user.PrimaryEmail != "" {
		return u.user.PrimaryEmail
	}
	return u.user.ID
}
func (u *passkeyUser) WebAuthnDisplayName() string          { return u.user.DisplayName }
func (u *passkeyUser) WebAuthnIcon() string                 { return "" }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (p *PasskeyAuth) loadPasskeyUser(ctx context.Context, projectID string, user *User) (*passkeyUser, error) {
	records, err := p.Store.ListUserPasskeys(ctx, projectID, user.ID)
	if err != nil {
		return nil, err
	}
	creds := make([]webauthn.Credential, 0, len(records))
	for _, rec := range records {
		var cred webauthn.Credential
		if err := json.Unmarshal(rec.Credential, &cred); err != nil {
			return nil, fmt.Errorf("decode passkey credential %s: %w", rec.ID, err)
		}
		creds = append(creds, cred)
	}
	return &passkeyUser{user: user, credentials: creds}, nil
}

func (p *PasskeyAuth) storeFlow(ctx context.Context, rc RequestContext, state passkeyFlowState) (string, error) {
	flowID, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	now := p.now()
	if err := p.Store.CreateCode(ctx, &VerificationCode{
		ID:        uuid.NewString(),
		ProjectID: rc.ProjectID,
		Kind:      CodeKindPasskeySession,
		CodeHash:  HashCode(flowID),
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(p.flowTTL()),
	}); err != nil {
		return "", fmt.Errorf("store passkey flow: %w", err)
	}
	return flowID, nil
}

func (p *PasskeyAuth) consumeFlow(ctx context.Context, rc RequestContext, flowID, wantKind string) (*passkeyFlowState, error) {
	vc, err := p.Store.ConsumeCode(ctx, rc.ProjectID, CodeKindPasskeySession, HashCode(flowID), p.now())
	if err != nil {
		return nil, err
	}
	var state passkeyFlowState
	if err := json.Unmarshal(vc.Payload, &state); err != nil {
		return nil, fmt.Errorf("decode passkey flow: %w", err)
	}
	if state.Kind != wantKind {
		return nil, ErrPasskeyVerificationFailed
	}
	return &state, nil
}

// BeginRegistration starts a registration ceremony for the signed-in
// user and returns the credential creation options plus a flow id.
func (p *PasskeyAuth) BeginRegistration(ctx context.Context, rc RequestContext, userID string) (json.RawMessage, string, error) {
	if !rc.Policy.PasskeyEnabled {
		return nil, "", NewAuthMethodDisabledError(MethodPasskey)
	}
	user, err := p.Store.GetUser(ctx, rc.ProjectID, userID)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrUserNotFound
	}
	wu, err := p.loadPasskeyUser(ctx, rc.ProjectID, user)
	if err != nil {
		return nil, "", err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(wu.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(wu.credentials).CredentialDescriptors()))
	}
	creation, session, err := p.WebAuthn.BeginRegistration(wu, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey registration: %w", err)
	}
	flowID, err := p.storeFlow(ctx, rc, passkeyFlowState{
		Kind:    passkeyFlowRegistration,
		UserID:  user.ID,
		Session: *session,
	})
	if err != nil {
		return nil, "", err
	}
	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, "", err
	}
	return optionsJSON, flowID, nil
}

// FinishRegistration validates the authenticator's response and stores
// the new credential.
func (p *PasskeyAuth) FinishRegistration(ctx context.Context, rc RequestContext, flowID string, responseJSON []byte) error {
	state, err := p.consumeFlow(ctx, rc, flowID, passkeyFlowRegistration)
	if err != nil {
		return err
	}
	user, err := p.Store.GetUser(ctx, rc.ProjectID, state.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	wu, err := p.loadPasskeyUser(ctx, rc.ProjectID, user)
	if err != nil {
		return err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return ErrPasskeyVerificationFailed
	}
	cred, err := p.WebAuthn.CreateCredential(wu, state.Session, parsed)
	if err != nil {
		return ErrPasskeyVerificationFailed
	}
	encoded, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return p.Store.CreatePasskey(ctx, &PasskeyCredential{
		ID:         uuid.NewString(),
		ProjectID:  rc.ProjectID,
		UserID:     user.ID,
		UserHandle: user.ID,
		Credential: encoded,
		CreatedAt:  p.now(),
	})
}

// BeginSignIn starts a discoverable login ceremony.
func (p *PasskeyAuth) BeginSignIn(ctx context.Context, rc RequestContext) (json.RawMessage, string, error) {
	if !rc.Policy.PasskeyEnabled {
		return nil, "", NewAuthMethodDisabledError(MethodPasskey)
	}
	assertion, session, err := p.WebAuthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey login: %w", err)
	}
	flowID, err := p.storeFlow(ctx, rc, passkeyFlowState{
		Kind:    passkeyFlowLogin,
		Session: *session,
	})
	if err != nil {
		return nil, "", err
	}
	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", err
	}
	return optionsJSON, flowID, nil
}

// FinishSignIn validates the assertion against the credential stored
// under the asserted user handle and emits the sign-in event.
func (p *PasskeyAuth) FinishSignIn(ctx context.Context, rc RequestContext, flowID string, responseJSON []byte) (AuthenticationEvent, error) {
	state, err := p.consumeFlow(ctx, rc, flowID, passkeyFlowLogin)
	if err != nil {
		return AuthenticationEvent{}, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return AuthenticationEvent{}, ErrPasskeyVerificationFailed
	}

	handler := func(_, userHandle []byte) (webauthn.User, error) {
		rec, err := p.Store.FindPasskeyByUserHandle(ctx, rc.ProjectID, string(userHandle))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("unknown passkey user handle")
		}
		user, err := p.Store.GetUser(ctx, rc.ProjectID, rec.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("passkey user missing")
		}
		return p.loadPasskeyUser(ctx, rc.ProjectID, user)
	}

	validated, _, err := p.WebAuthn.ValidatePasskeyLogin(handler, state.Session, parsed)
	if err != nil {
		return AuthenticationEvent{}, ErrPasskeyVerificationFailed
	}
	wu, ok := validated.(*passkeyUser)
	if !ok {
		return AuthenticationEvent{}, ErrPasskeyVerificationFailed
	}
	return AuthenticationEvent{
		Method:         MethodPasskey,
		ExistingUserID: wu.user.ID,
	}, nil
}
