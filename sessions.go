package stackauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yonasBSD/stack-sub000/tokens"
)

// Sessions owns the refresh-token lineage lifecycle. Revoking a session
// blocks all future refreshes immediately; access tokens issued before
// the revocation stay valid until their own short expiry. That bounded
// staleness is deliberate and keeps verification storage-free.
type Sessions struct {
	Store  Store
	Codec  *tokens.Codec
	Logger *slog.Logger

	Now func() time.Time
}

// WithStore returns a copy of the session manager bound to tx, so
// session creation can join the resolver's transaction.
func (s *Sessions) WithStore(tx Store) *Sessions {
	bound := *s
	bound.Store = tx
	return &bound
}

func (s *Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateSessionOptions tunes session creation.
type CreateSessionOptions struct {
	// ExpiresIn bounds the session lifetime; zero means no expiry.
	ExpiresIn time.Duration
	// IsImpersonation marks server-created sessions acting on behalf
	// of a user.
	IsImpersonation bool
}

// TokenPair is the caller-facing result of a successful authentication.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Create opens a new session for the user and mints both tokens.
func (s *Sessions) Create(ctx context.Context, rc RequestContext, user *User, opts CreateSessionOptions) (*Session, TokenPair, error) {
	refreshToken, err := tokens.NewRefreshToken()
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := s.now()
	session := &Session{
		ID:               uuid.NewString(),
		ProjectID:        rc.ProjectID,
		UserID:           user.ID,
		RefreshTokenHash: tokens.HashRefreshToken(refreshToken),
		IsImpersonation:  opts.IsImpersonation,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
	if opts.ExpiresIn > 0 {
		exp := now.Add(opts.ExpiresIn)
		session.ExpiresAt = &exp
	}
	if err := s.Store.CreateSession(ctx, session); err != nil {
		return nil, TokenPair{}, fmt.Errorf("create session: %w", err)
	}
	accessToken, err := s.Codec.Issue(tokens.AccessTokenParams{
		UserID:    user.ID,
		SessionID: session.ID,
		Audience:  rc.Audience(),
		Anonymous: user.IsAnonymous,
	})
	if err != nil {
		return nil, TokenPair{}, err
	}
	return session, TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Refresh mints a new access token for the session behind the refresh
// token. The refresh token itself is not rotated; it stays valid until
// the session is explicitly revoked or expires.
func (s *Sessions) Refresh(ctx context.Context, rc RequestContext, refreshToken string) (string, error) {
	session, err := s.lookup(ctx, rc.ProjectID, refreshToken)
	if err != nil {
		return "", err
	}
	user, err := s.Store.GetUser(ctx, rc.ProjectID, session.UserID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrRefreshTokenNotFoundOrExpired
	}
	session.LastUsedAt = s.now()
	if err := s.Store.SaveSession(ctx, session); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return s.Codec.Issue(tokens.AccessTokenParams{
		UserID:    user.ID,
		SessionID: session.ID,
		Audience:  rc.Audience(),
		Anonymous: user.IsAnonymous,
	})
}

func (s *Sessions) lookup(ctx context.Context, projectID, refreshToken string) (*Session, error) {
	session, err := s.Store.GetSessionByTokenHash(ctx, projectID, tokens.HashRefreshToken(refreshToken))
	if err != nil {
		return nil, err
	}
	if session == nil || session.Revoked() || session.Expired(s.now()) {
		return nil, ErrRefreshTokenNotFoundOrExpired
	}
	return session, nil
}

// Revoke ends the session lineage. Idempotent; revoking twice is fine.
func (s *Sessions) Revoke(ctx context.Context, projectID, sessionID string) error {
	session, err := s.Store.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.RevokedAt == nil {
		now := s.now()
		session.RevokedAt = &now
		if err := s.Store.SaveSession(ctx, session); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

// RevokeByToken revokes the session behind a refresh token (sign-out).
func (s *Sessions) RevokeByToken(ctx context.Context, projectID, refreshToken string) error {
	session, err := s.lookup(ctx, projectID, refreshToken)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, projectID, session.ID)
}

// RevokeAll ends every live session of the user.
func (s *Sessions) RevokeAll(ctx context.Context, projectID, userID string) error {
	sessions, err := s.Store.ListUserSessions(ctx, projectID, userID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, session := range sessions {
		if session.RevokedAt != nil {
			continue
		}
		session.RevokedAt = &now
		if err := s.Store.SaveSession(ctx, session); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      time.Time  `json:"last_used_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	IsImpersonation bool       `json:"is_impersonation"`
	IsCurrent       bool       `json:"is_current"`
}

// List returns the user's non-revoked sessions. IsCurrent is computed
// by matching the request's own refresh token, when provided.
func (s *Sessions) List(ctx context.Context, projectID, userID, currentRefreshToken string) ([]SessionInfo, error) {
	sessions, err := s.Store.ListUserSessions(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	currentHash := ""
	if currentRefreshToken != "" {
		currentHash = tokens.HashRefreshToken(currentRefreshToken)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		if session.Revoked() {
			continue
		}
		out = append(out, SessionInfo{
			ID:              session.ID,
			UserID:          session.UserID,
			CreatedAt:       session.CreatedAt,
			LastUsedAt:      session.LastUsedAt,
			ExpiresAt:       session.ExpiresAt,
			IsImpersonation: session.IsImpersonation,
			IsCurrent:       currentHash != "" && session.RefreshTokenHash == currentHash,
		})
	}
	return out, nil
}
