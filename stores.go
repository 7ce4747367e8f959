package stackauth

import (
	"context"
	"time"
)

// UserStore manages project-scoped user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, projectID, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, projectID, userID string) error
}

// ContactChannelStore manages email/phone contact channels.
type ContactChannelStore interface {
	CreateChannel(ctx context.Context, ch *ContactChannel) error
	GetChannel(ctx context.Context, projectID, channelID string) (*ContactChannel, error)

	// FindAuthChannel returns the channel holding normalizedValue with
	// UsedForAuth set, or nil when none exists. This is the collision
	// detection primitive for the resolver.
	FindAuthChannel(ctx context.Context, projectID string, t ContactType, normalizedValue string) (*ContactChannel, error)

	ListUserChannels(ctx context.Context, projectID, userID string) ([]*ContactChannel, error)
	SaveChannel(ctx context.Context, ch *ContactChannel) error
	DeleteChannel(ctx context.Context, projectID, channelID string) error
}

// ProviderLinkStore manages OAuth provider account links.
type ProviderLinkStore interface {
	CreateLink(ctx context.Context, link *OAuthProviderLink) error

	// FindSignInLink returns the link for (providerConfigID, accountID)
	// with AllowSignIn set, or nil when none exists.
	FindSignInLink(ctx context.Context, projectID, providerConfigID, accountID string) (*OAuthProviderLink, error)

	ListUserLinks(ctx context.Context, projectID, userID string) ([]*OAuthProviderLink, error)
	SaveLink(ctx context.Context, link *OAuthProviderLink) error
	DeleteLink(ctx context.Context, projectID, linkID string) error
}

// SessionStore manages refresh-token lineages. Refresh tokens are
// stored hashed; lookups go through the hash only.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, projectID, sessionID string) (*Session, error)
	GetSessionByTokenHash(ctx context.Context, projectID, tokenHash string) (*Session, error)
	ListUserSessions(ctx context.Context, projectID, userID string) ([]*Session, error)
	SaveSession(ctx context.Context, s *Session) error
}

// VerificationCodeStore manages single-use codes (OTP sign-in, contact
// verification, OAuth outer authorization codes, passkey sessions).
type VerificationCodeStore interface {
	CreateCode(ctx context.Context, code *VerificationCode) error

	// ConsumeCode atomically marks the code matching (kind, codeHash)
	// as used and returns it. A code is redeemable at most once:
	// concurrent consumers see ErrVerificationCodeAlreadyUsed.
	ConsumeCode(ctx context.Context, projectID string, kind VerificationCodeKind, codeHash string, now time.Time) (*VerificationCode, error)
}

// PasskeyCredentialStore manages registered WebAuthn credentials.
type PasskeyCredentialStore interface {
	CreatePasskey(ctx context.Context, cred *PasskeyCredential) error
	ListUserPasskeys(ctx context.Context, projectID, userID string) ([]*PasskeyCredential, error)
	FindPasskeyByUserHandle(ctx context.Context, projectID, userHandle string) (*PasskeyCredential, error)
	SavePasskey(ctx context.Context, cred *PasskeyCredential) error
}

// TeamStore manages the minimal team surface the core touches.
type TeamStore interface {
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, projectID, teamID string) (*Team, error)
	SaveTeam(ctx context.Context, team *Team) error

	// AddTeamMember fails with ErrTeamMembershipAlreadyExists when the
	// user is already a member.
	AddTeamMember(ctx context.Context, projectID, teamID, userID string) error
}

// Store bundles every store the core needs plus transactional
// execution. Each authentication attempt runs as one transaction
// spanning the collision check, user write, channel/link write and
// session creation; adapters must make the check-then-act paths atomic
// (serialized transactions or unique-constraint-plus-retry).
type Store interface {
	UserStore
	ContactChannelStore
	ProviderLinkStore
	SessionStore
	VerificationCodeStore
	PasskeyCredentialStore
	TeamStore

	// InTransaction runs fn atomically. The Store passed to fn sees
	// fn's own uncommitted writes; an error rolls everything back.
	InTransaction(ctx context.Context, fn func(tx Store) error) error
}

// Mailbox delivers templated mail. Fire-and-forget from the core's
// perspective; the only coupling is that the embedded code must later
// be redeemable through the verification-code store.
type Mailbox interface {
	Send(ctx context.Context, to, templateID string, vars map[string]any) error
}

// WebhookEmitter notifies external systems of identity events
// (user.created, user.updated, team_membership.created, ...).
// Best effort, never on the transaction's critical path.
type WebhookEmitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]any)
}
