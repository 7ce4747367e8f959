package gae

import (
	"time"

	stackauth "github.com/yonasBSD/stack-sub000"
)

// The domain types hide secret fields (password hashes, token hashes,
// payloads) from their API JSON. Storage needs them, so each entity
// marshals through an explicit record struct instead.

type userRecord struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	IsAnonymous        bool           `json:"is_anonymous"`
	PrimaryEmail       string         `json:"primary_email"`
	DisplayName        string         `json:"display_name"`
	PasswordHash       string         `json:"password_hash"`
	PersonalTeamID     string         `json:"personal_team_id"`
	ClientMetadata     map[string]any `json:"client_metadata,omitempty"`
	ClientReadOnlyMeta map[string]any `json:"client_read_only_metadata,omitempty"`
	ServerMetadata     map[string]any `json:"server_metadata,omitempty"`
	SignedUpAt         time.Time      `json:"signed_up_at"`
	LastActiveAt       time.Time      `json:"last_active_at"`
}

func newUserRecord(u *stackauth.User) *userRecord {
	return &userRecord{
		ID:                 u.ID,
		ProjectID:          u.ProjectID,
		IsAnonymous:        u.IsAnonymous,
		PrimaryEmail:       u.PrimaryEmail,
		DisplayName:        u.DisplayName,
		PasswordHash:       u.PasswordHash,
		PersonalTeamID:     u.PersonalTeamID,
		ClientMetadata:     u.ClientMetadata,
		ClientReadOnlyMeta: u.ClientReadOnlyMeta,
		ServerMetadata:     u.ServerMetadata,
		SignedUpAt:         u.SignedUpAt,
		LastActiveAt:       u.LastActiveAt,
	}
}

func (r *userRecord) domain() *stackauth.User {
	return &stackauth.User{
		ID:                 r.ID,
		ProjectID:          r.ProjectID,
		IsAnonymous:        r.IsAnonymous,
		PrimaryEmail:       r.PrimaryEmail,
		DisplayName:        r.DisplayName,
		PasswordHash:       r.PasswordHash,
		PersonalTeamID:     r.PersonalTeamID,
		ClientMetadata:     r.ClientMetadata,
		ClientReadOnlyMeta: r.ClientReadOnlyMeta,
		ServerMetadata:     r.ServerMetadata,
		SignedUpAt:         r.SignedUpAt,
		LastActiveAt:       r.LastActiveAt,
	}
}

type channelRecord struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	UserID          string    `json:"user_id"`
	Type            string    `json:"type"`
	Value           string    `json:"value"`
	NormalizedValue string    `json:"normalized_value"`
	IsVerified      bool      `json:"is_verified"`
	UsedForAuth     bool      `json:"used_for_auth"`
	IsPrimary       bool      `json:"is_primary"`
	CreatedAt       time.Time `json:"created_at"`
}

func newChannelRecord(ch *stackauth.ContactChannel) *channelRecord {
	return &channelRecord{
		ID:              ch.ID,
		ProjectID:       ch.ProjectID,
		UserID:          ch.UserID,
		Type:            string(ch.Type),
		Value:           ch.Value,
		NormalizedValue: ch.NormalizedValue,
		IsVerified:      ch.IsVerified,
		UsedForAuth:     ch.UsedForAuth,
		IsPrimary:       ch.IsPrimary,
		CreatedAt:       ch.CreatedAt,
	}
}

func (r *channelRecord) domain() *stackauth.ContactChannel {
	return &stackauth.ContactChannel{
		ID:              r.ID,
		ProjectID:       r.ProjectID,
		UserID:          r.UserID,
		Type:            stackauth.ContactType(r.Type),
		Value:           r.Value,
		NormalizedValue: r.NormalizedValue,
		IsVerified:      r.IsVerified,
		UsedForAuth:     r.UsedForAuth,
		IsPrimary:       r.IsPrimary,
		CreatedAt:       r.CreatedAt,
	}
}

type sessionRecord struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	UserID           string     `json:"user_id"`
	RefreshTokenHash string     `json:"refresh_token_hash"`
	IsImpersonation  bool       `json:"is_impersonation"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

func newSessionRecord(s *stackauth.Session) *sessionRecord {
	return &sessionRecord{
		ID:               s.ID,
		ProjectID:        s.ProjectID,
		UserID:           s.UserID,
		RefreshTokenHash: s.RefreshTokenHash,
		IsImpersonation:  s.IsImpersonation,
		CreatedAt:        s.CreatedAt,
		LastUsedAt:       s.LastUsedAt,
		ExpiresAt:        s.ExpiresAt,
		RevokedAt:        s.RevokedAt,
	}
}

func (r *sessionRecord) domain() *stackauth.Session {
	return &stackauth.Session{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		UserID:           r.UserID,
		RefreshTokenHash: r.RefreshTokenHash,
		IsImpersonation:  r.IsImpersonation,
		CreatedAt:        r.CreatedAt,
		LastUsedAt:       r.LastUsedAt,
		ExpiresAt:        r.ExpiresAt,
		RevokedAt:        r.RevokedAt,
	}
}

type codeRecord struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Kind      string     `json:"kind"`
	CodeHash  string     `json:"code_hash"`
	Recipient string     `json:"recipient,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

func newCodeRecord(c *stackauth.VerificationCode) *codeRecord {
	return &codeRecord{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		Kind:      string(c.Kind),
		CodeHash:  c.CodeHash,
		Recipient: c.Recipient,
		Payload:   c.Payload,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
		UsedAt:    c.UsedAt,
	}
}

func (r *codeRecord) domain() *stackauth.VerificationCode {
	return &stackauth.VerificationCode{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Kind:      stackauth.VerificationCodeKind(r.Kind),
		CodeHash:  r.CodeHash,
		Recipient: r.Recipient,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		UsedAt:    r.UsedAt,
	}
}

type passkeyRecord struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	UserID     string    `json:"user_id"`
	UserHandle string    `json:"user_handle"`
	Credential []byte    `json:"credential"`
	CreatedAt  time.Time `json:"created_at"`
}

func newPasskeyRecord(p *stackauth.PasskeyCredential) *passkeyRecord {
	return &passkeyRecord{
		ID:         p.ID,
		ProjectID:  p.ProjectID,
		UserID:     p.UserID,
		UserHandle: p.UserHandle,
		Credential: p.Credential,
		CreatedAt:  p.CreatedAt,
	}
}

func (r *passkeyRecord) domain() *stackauth.PasskeyCredential {
	return &stackauth.PasskeyCredential{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		UserID:     r.UserID,
		UserHandle: r.UserHandle,
		Credential: r.Credential,
		CreatedAt:  r.CreatedAt,
	}
}
