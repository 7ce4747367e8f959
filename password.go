package stackauth

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// ErrPasswordRequirementsNotMet rejects passwords below the minimum.
var ErrPasswordRequirementsNotMet = &KnownError{
	Code:    "PASSWORD_REQUIREMENTS_NOT_MET",
	Message: "The password does not meet the minimum requirements.",
	Status:  http.StatusBadRequest,
}

// PasswordAuth verifies and manages password credentials. It emits
// AuthenticationEvents keyed by the normalized email; the resolver does
// the rest.
type PasswordAuth struct {
	Store Store
}

// SignIn checks the password against the auth channel owning the email.
// Comparison is bcrypt's constant-time hash check. Lookup failure and
// hash mismatch are indistinguishable to the caller.
func (p *PasswordAuth) SignIn(ctx context.Context, rc RequestContext, email, password string) (AuthenticationEvent, error) {
	norm := NormalizeEmail(email)
	ch, err := p.Store.FindAuthChannel(ctx, rc.ProjectID, ContactEmail, norm)
	if err != nil {
		return AuthenticationEvent{}, err
	}
	if ch == nil {
		return AuthenticationEvent{}, ErrInvalidCredentials
	}
	user, err := p.Store.GetUser(ctx, rc.ProjectID, ch.UserID)
	if err != nil {
		return AuthenticationEvent{}, err
	}
	if user == nil || !user.HasPassword() {
		return AuthenticationEvent{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthenticationEvent{}, ErrInvalidCredentials
	}
	return AuthenticationEvent{
		Method:          MethodPassword,
		ContactType:     ContactEmail,
		ContactValue:    ch.Value,
		NormalizedValue: norm,
		ExistingUserID:  user.ID,
	}, nil
}

// SignUp validates and hashes the password for a CREATE or UPGRADE.
// The resolver persists the hash in the same transaction that writes
// the contact channel.
func (p *PasswordAuth) SignUp(ctx context.Context, rc RequestContext, email, password string) (AuthenticationEvent, error) {
	if len(password) < MinPasswordLength {
		return AuthenticationEvent{}, ErrPasswordRequirementsNotMet
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthenticationEvent{}, err
	}
	return AuthenticationEvent{
		Method:          MethodPassword,
		ContactType:     ContactEmail,
		ContactValue:    email,
		NormalizedValue: NormalizeEmail(email),
		NewPasswordHash: string(hash),
	}, nil
}

// Set replaces the user's password without checking the old one
// (server-side reset or first-time set).
func (p *PasswordAuth) Set(ctx context.Context, rc RequestContext, userID, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordRequirementsNotMet
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return p.Store.InTransaction(ctx, func(tx Store) error {
		user, err := tx.GetUser(ctx, rc.ProjectID, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		user.PasswordHash = string(hash)
		return tx.SaveUser(ctx, user)
	})
}

// Update replaces the password after verifying the old one.
func (p *PasswordAuth) Update(ctx context.Context, rc RequestContext, userID, oldPassword, newPassword string) error {
	user, err := p.Store.GetUser(ctx, rc.ProjectID, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !user.HasPassword() {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	return p.Set(ctx, rc, userID, newPassword)
}
