package stackauth

import "time"

// AuthMethod identifies how a user authenticated.
type AuthMethod string

const (
	MethodPassword  AuthMethod = "password"
	MethodOTP       AuthMethod = "otp"
	MethodOAuth     AuthMethod = "oauth"
	MethodPasskey   AuthMethod = "passkey"
	MethodAnonymous AuthMethod = "anonymous"
)

// MergeStrategy governs what happens when a new auth method's contact
// value collides with a channel already used for auth by another user.
// Named for OAuth historically but applied to every method.
type MergeStrategy string

const (
	MergeAllowDuplicates MergeStrategy = "allow_duplicates"
	MergeRaiseError      MergeStrategy = "raise_error"
	MergeLinkMethod      MergeStrategy = "link_method"
)

// ContactType is the kind of contact channel.
type ContactType string

const (
	ContactEmail ContactType = "email"
	ContactPhone ContactType = "phone"
)

// AccessType is the privilege level of the calling credentials,
// carried on the x-stack-access-type header.
type AccessType string

const (
	AccessClient AccessType = "client"
	AccessServer AccessType = "server"
	AccessAdmin  AccessType = "admin"
)

// User is a project-scoped account. A non-anonymous user is produced
// either by a fresh CREATE or by exactly one in-place upgrade of a
// prior anonymous user; the upgrade never mints a new id.
type User struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	IsAnonymous        bool           `json:"is_anonymous"`
	PrimaryEmail       string         `json:"primary_email,omitempty"`
	DisplayName        string         `json:"display_name,omitempty"`
	PasswordHash       string         `json:"-"`
	PersonalTeamID     string         `json:"personal_team_id,omitempty"`
	ClientMetadata     map[string]any `json:"client_metadata,omitempty"`
	ClientReadOnlyMeta map[string]any `json:"client_read_only_metadata,omitempty"`
	ServerMetadata     map[string]any `json:"server_metadata,omitempty"`
	SignedUpAt         time.Time      `json:"signed_up_at"`
	LastActiveAt       time.Time      `json:"last_active_at"`
}

// HasPassword reports whether password auth is configured for the user.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// ContactChannel is an email or phone value owned by one user. Within a
// project at most one channel with UsedForAuth=true may hold a given
// normalized value; the Resolver enforces this at write time because
// the collision outcome depends on the project's merge strategy.
type ContactChannel struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id"`
	UserID          string      `json:"user_id"`
	Type            ContactType `json:"type"`
	Value           string      `json:"value"`
	NormalizedValue string      `json:"-"`
	IsVerified      bool        `json:"is_verified"`
	UsedForAuth     bool        `json:"used_for_auth"`
	IsPrimary       bool        `json:"is_primary"`
	CreatedAt       time.Time   `json:"created_at"`
}

// OAuthProviderLink ties a provider-side account to a user. For a given
// user and provider type at most one link may have AllowSignIn set.
type OAuthProviderLink struct {
	ID                     string    `json:"id"`
	ProjectID              string    `json:"project_id"`
	UserID                 string    `json:"user_id"`
	ProviderConfigID       string    `json:"provider_config_id"`
	ProviderType           string    `json:"provider_type"`
	AccountID              string    `json:"account_id"`
	Email                  string    `json:"email,omitempty"`
	AllowSignIn            bool      `json:"allow_sign_in"`
	AllowConnectedAccounts bool      `json:"allow_connected_accounts"`
	CreatedAt              time.Time `json:"created_at"`
}

// Session is one refresh-token lineage. The refresh token itself is
// stored only as a hash; revocation is permanent for the lineage while
// already-minted access tokens stay valid until their own expiry.
type Session struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	UserID           string     `json:"user_id"`
	RefreshTokenHash string     `json:"-"`
	IsImpersonation  bool       `json:"is_impersonation"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RevokedAt        *time.Time `json:"-"`
}

// Revoked reports whether the session lineage was explicitly ended.
func (s *Session) Revoked() bool { return s.RevokedAt != nil }

// Expired reports whether the session passed its optional expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Team is a minimal team record; the core only touches teams to create
// a user's personal team and to rename it on anonymous upgrade.
type Team struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// VerificationCodeKind distinguishes the single-use codes kept in the
// VerificationCodeStore.
type VerificationCodeKind string

const (
	CodeKindOTPSignIn      VerificationCodeKind = "otp_sign_in"
	CodeKindContactVerify  VerificationCodeKind = "contact_channel_verification"
	CodeKindOAuthOuter     VerificationCodeKind = "oauth_authorization_code"
	CodeKindPasskeySession VerificationCodeKind = "passkey_session"
)

// VerificationCode is a single-use, expiring code. Redemption is atomic:
// a code can be consumed at most once even under concurrent redeems.
type VerificationCode struct {
	ID        string               `json:"id"`
	ProjectID string               `json:"project_id"`
	Kind      VerificationCodeKind `json:"kind"`
	CodeHash  string               `json:"-"`
	Recipient string               `json:"recipient,omitempty"`
	Payload   []byte               `json:"-"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	UsedAt    *time.Time           `json:"-"`
}

// PasskeyCredential is a registered WebAuthn credential serialized per
// user; UserHandle is the discoverable-login key.
type PasskeyCredential struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	UserID     string    `json:"user_id"`
	UserHandle string    `json:"user_handle"`
	Credential []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuthPolicy is the per-project policy snapshot the core reads on every
// request. It is supplied by the external config system and treated as
// immutable for the request's duration.
type AuthPolicy struct {
	AllowSignUp      bool
	AnonymousEnabled bool
	PasswordEnabled  bool
	OTPEnabled       bool
	PasskeyEnabled   bool
	OAuthEnabled     bool

	MergeStrategy MergeStrategy

	// TrustedDomains holds base URLs matched exactly on
	// scheme+host+port during OAuth redirect validation.
	TrustedDomains []string
	AllowLocalhost bool

	// PersonalTeamDefaultName is the auto-generated display name given
	// to a fresh user's personal team. On anonymous upgrade the team is
	// renamed to "{email}'s Team" only while it still carries this
	// default.
	PersonalTeamDefaultName string
}

// MethodEnabled reports whether the policy allows the given method.
func (p AuthPolicy) MethodEnabled(m AuthMethod) bool {
	switch m {
	case MethodPassword:
		return p.PasswordEnabled
	case MethodOTP:
		return p.OTPEnabled
	case MethodPasskey:
		return p.PasskeyEnabled
	case MethodOAuth:
		return p.OAuthEnabled
	case MethodAnonymous:
		return p.AnonymousEnabled
	}
	return false
}

// Caller is the identity attached to the incoming request, decoded from
// its access token.
type Caller struct {
	UserID      string
	IsAnonymous bool
	SessionID   string
}

// RequestContext carries the project scope, policy snapshot and caller
// identity through every core call. It replaces any ambient
// "current request" global.
type RequestContext struct {
	ProjectID  string
	Branch     string
	AccessType AccessType
	Policy     AuthPolicy
	Caller     *Caller
}

// Audience is the token audience for this project/branch scope.
func (rc RequestContext) Audience() string {
	if rc.Branch == "" {
		return rc.ProjectID
	}
	return rc.ProjectID + "#" + rc.Branch
}

// AuthenticationEvent is the normalized output of any credential
// verifier and the sole input (besides the RequestContext) to the
// identity resolver. Exactly one verifier produces each event, but the
// resolver consumes them uniformly.
type AuthenticationEvent struct {
	Method AuthMethod

	// Contact value the method is keyed by, if any. Value keeps the
	// submitted casing; NormalizedValue is used for all comparisons.
	ContactType     ContactType
	ContactValue    string
	NormalizedValue string

	// OAuth-only fields.
	ProviderConfigID   string
	ProviderType       string
	ProviderAccountID  string
	VerifiedByProvider bool

	// ExistingUserID is set when the credential itself already proves
	// ownership of a specific user (password match, redeemed OTP bound
	// to a channel, passkey assertion).
	ExistingUserID string

	// NewPasswordHash is attached on password sign-up so a CREATE or
	// UPGRADE can persist the credential in the same transaction.
	NewPasswordHash string

	PreferredDisplayName string
}
