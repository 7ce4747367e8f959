// Package gorm persists the auth core in a relational database. It
// supports SQLite for single-node deployments and Postgres for
// everything else; the schema is auto-migrated on open.
package gorm

import (
	"time"

	"gorm.io/datatypes"

	stackauth "github.com/yonasBSD/stack-sub000"
)

type userModel struct {
	ProjectID          string `gorm:"primaryKey;size:64"`
	ID                 string `gorm:"primaryKey;size:64"`
	IsAnonymous        bool
	PrimaryEmail       string `gorm:"index"`
	DisplayName        string
	PasswordHash       string
	PersonalTeamID     string
	ClientMetadata     datatypes.JSONMap
	ClientReadOnlyMeta datatypes.JSONMap
	ServerMetadata     datatypes.JSONMap
	SignedUpAt         time.Time
	LastActiveAt       time.Time
}

func (userModel) TableName() string { return "auth_users" }

func toUserModel(u *stackauth.User) *userModel {
	return &userModel{
		ProjectID:          u.ProjectID,
		ID:                 u.ID,
		IsAnonymous:        u.IsAnonymous,
		PrimaryEmail:       u.PrimaryEmail,
		DisplayName:        u.DisplayName,
		PasswordHash:       u.PasswordHash,
		PersonalTeamID:     u.PersonalTeamID,
		ClientMetadata:     datatypes.JSONMap(u.ClientMetadata),
		ClientReadOnlyMeta: datatypes.JSONMap(u.ClientReadOnlyMeta),
		ServerMetadata:     datatypes.JSONMap(u.ServerMetadata),
		SignedUpAt:         u.SignedUpAt,
		LastActiveAt:       u.LastActiveAt,
	}
}

func (m *userModel) domain() *stackauth.User {
	return &stackauth.User{
		ProjectID:          m.ProjectID,
		ID:                 m.ID,
		IsAnonymous:        m.IsAnonymous,
		PrimaryEmail:       m.PrimaryEmail,
		DisplayName:        m.DisplayName,
		PasswordHash:       m.PasswordHash,
		PersonalTeamID:     m.PersonalTeamID,
		ClientMetadata:     map[string]any(m.ClientMetadata),
		ClientReadOnlyMeta: map[string]any(m.ClientReadOnlyMeta),
		ServerMetadata:     map[string]any(m.ServerMetadata),
		SignedUpAt:         m.SignedUpAt,
		LastActiveAt:       m.LastActiveAt,
	}
}

type channelModel struct {
	ProjectID       string `gorm:"primaryKey;size:64"`
	ID              string `gorm:"primaryKey;size:64"`
	UserID          string `gorm:"index"`
	Type            string `gorm:"index:idx_auth_value"`
	Value           string
	NormalizedValue string `gorm:"index:idx_auth_value"`
	IsVerified      bool
	UsedForAuth     bool `gorm:"index:idx_auth_value"`
	IsPrimary       bool
	CreatedAt       time.Time
}

func (channelModel) TableName() string { return "auth_contact_channels" }

func toChannelModel(ch *stackauth.ContactChannel) *channelModel {
	return &channelModel{
		ProjectID:       ch.ProjectID,
		ID:              ch.ID,
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

func (m *channelModel) domain() *stackauth.ContactChannel {
	return &stackauth.ContactChannel{
		ProjectID:       m.ProjectID,
		ID:              m.ID,
		UserID:          m.UserID,
		Type:            stackauth.ContactType(m.Type),
		Value:           m.Value,
		NormalizedValue: m.NormalizedValue,
		IsVerified:      m.IsVerified,
		UsedForAuth:     m.UsedForAuth,
		IsPrimary:       m.IsPrimary,
		CreatedAt:       m.CreatedAt,
	}
}

type linkModel struct {
	ProjectID              string `gorm:"primaryKey;size:64"`
	ID                     string `gorm:"primaryKey;size:64"`
	UserID                 string `gorm:"index"`
	ProviderConfigID       string `gorm:"index:idx_provider_account"`
	ProviderType           string
	AccountID              string `gorm:"index:idx_provider_account"`
	Email                  string
	AllowSignIn            bool
	AllowConnectedAccounts bool
	CreatedAt              time.Time
}

func (linkModel) TableName() string { return "auth_provider_links" }

func toLinkModel(l *stackauth.OAuthProviderLink) *linkModel {
	return &linkModel{
		ProjectID:              l.ProjectID,
		ID:                     l.ID,
		UserID:                 l.UserID,
		ProviderConfigID:       l.ProviderConfigID,
		ProviderType:           l.ProviderType,
		AccountID:              l.AccountID,
		Email:                  l.Email,
		AllowSignIn:            l.AllowSignIn,
		AllowConnectedAccounts: l.AllowConnectedAccounts,
		CreatedAt:              l.CreatedAt,
	}
}

func (m *linkModel) domain() *stackauth.OAuthProviderLink {
	return &stackauth.OAuthProviderLink{
		ProjectID:              m.ProjectID,
		ID:                     m.ID,
		UserID:                 m.UserID,
		ProviderConfigID:       m.ProviderConfigID,
		ProviderType:           m.ProviderType,
		AccountID:              m.AccountID,
		Email:                  m.Email,
		AllowSignIn:            m.AllowSignIn,
		AllowConnectedAccounts: m.AllowConnectedAccounts,
		CreatedAt:              m.CreatedAt,
	}
}

type sessionModel struct {
	ProjectID        string `gorm:"primaryKey;size:64"`
	ID               string `gorm:"primaryKey;size:64"`
	UserID           string `gorm:"index"`
	RefreshTokenHash string `gorm:"uniqueIndex"`
	IsImpersonation  bool
	CreatedAt        time.Time
	LastUsedAt       time.Time
	ExpiresAt        *time.Time
	RevokedAt        *time.Time
}

func (sessionModel) TableName() string { return "auth_sessions" }

func toSessionModel(s *stackauth.Session) *sessionModel {
	return &sessionModel{
		ProjectID:        s.ProjectID,
		ID:               s.ID,
		UserID:           s.UserID,
		RefreshTokenHash: s.RefreshTokenHash,
		IsImpersonation:  s.IsImpersonation,
		CreatedAt:        s.CreatedAt,
		LastUsedAt:       s.LastUsedAt,
		ExpiresAt:        s.ExpiresAt,
		RevokedAt:        s.RevokedAt,
	}
}

func (m *sessionModel) domain() *stackauth.Session {
	return &stackauth.Session{
		ProjectID:        m.ProjectID,
		ID:               m.ID,
		UserID:           m.UserID,
		RefreshTokenHash: m.RefreshTokenHash,
		IsImpersonation:  m.IsImpersonation,
		CreatedAt:        m.CreatedAt,
		LastUsedAt:       m.LastUsedAt,
		ExpiresAt:        m.ExpiresAt,
		RevokedAt:        m.RevokedAt,
	}
}

type codeModel struct {
	ProjectID string `gorm:"primaryKey;size:64"`
	ID        string `gorm:"primaryKey;size:64"`
	Kind      string `gorm:"uniqueIndex:idx_code_hash"`
	CodeHash  string `gorm:"uniqueIndex:idx_code_hash"`
	Recipient string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

func (codeModel) TableName() string { return "auth_verification_codes" }

func toCodeModel(c *stackauth.VerificationCode) *codeModel {
	return &codeModel{
		ProjectID: c.ProjectID,
		ID:        c.ID,
		Kind:      string(c.Kind),
		CodeHash:  c.CodeHash,
		Recipient: c.Recipient,
		Payload:   c.Payload,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
		UsedAt:    c.UsedAt,
	}
}

func (m *codeModel) domain() *stackauth.VerificationCode {
	return &stackauth.VerificationCode{
		ProjectID: m.ProjectID,
		ID:        m.ID,
		Kind:      stackauth.VerificationCodeKind(m.Kind),
		CodeHash:  m.CodeHash,
		Recipient: m.Recipient,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		UsedAt:    m.UsedAt,
	}
}

type passkeyModel struct {
	ProjectID  string `gorm:"primaryKey;size:64"`
	ID         string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"index"`
	UserHandle string `gorm:"index"`
	Credential []byte
	CreatedAt  time.Time
}

func (passkeyModel) TableName() string { return "auth_passkeys" }

func toPasskeyModel(p *stackauth.PasskeyCredential) *passkeyModel {
	return &passkeyModel{
		ProjectID:  p.ProjectID,
		ID:         p.ID,
		UserID:     p.UserID,
		UserHandle: p.UserHandle,
		Credential: p.Credential,
		CreatedAt:  p.CreatedAt,
	}
}

func (m *passkeyModel) domain() *stackauth.PasskeyCredential {
	return &stackauth.PasskeyCredential{
		ProjectID:  m.ProjectID,
		ID:         m.ID,
		UserID:     m.UserID,
		UserHandle: m.UserHandle,
		Credential: m.Credential,
		CreatedAt:  m.CreatedAt,
	}
}

type teamModel struct {
	ProjectID   string `gorm:"primaryKey;size:64"`
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string
	CreatedAt   time.Time
}

func (teamModel) TableName() string { return "auth_teams" }

func toTeamModel(t *stackauth.Team) *teamModel {
	return &teamModel{
		ProjectID:   t.ProjectID,
		ID:          t.ID,
		DisplayName: t.DisplayName,
		CreatedAt:   t.CreatedAt,
	}
}

func (m *teamModel) domain() *stackauth.Team {
	return &stackauth.Team{
		ProjectID:   m.ProjectID,
		ID:          m.ID,
		DisplayName: m.DisplayName,
		CreatedAt:   m.CreatedAt,
	}
}

type memberModel struct {
	ProjectID string `gorm:"primaryKey;size:64"`
	TeamID    string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (memberModel) TableName() string { return "auth_team_members" }
