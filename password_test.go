package stackauth_test

import (
	"context"
	"errors"
	"testing"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func TestPasswordSignUpSignInRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	auth := &stackauth.PasswordAuth{Store: store}
	rc := clientContext(defaultPolicy())

	ev, err := auth.SignUp(ctx, rc, "Pat@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	created, err := resolver.Resolve(ctx, rc, ev)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created.Outcome != stackauth.OutcomeCreated {
		t.Fatalf("outcome = %q, want created", created.Outcome)
	}

	// Sign-in uses the normalized address.
	ev, err = auth.SignIn(ctx, rc, "pat@example.COM", "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if ev.ExistingUserID != created.User.ID {
		t.Errorf("sign-in resolved user %q, want %q", ev.ExistingUserID, created.User.ID)
	}
}

func TestPasswordSignInWrongPassword(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	auth := &stackauth.PasswordAuth{Store: store}
	rc := clientContext(defaultPolicy())

	ev, err := auth.SignUp(ctx, rc, "pat@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := resolver.Resolve(ctx, rc, ev); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := auth.SignIn(ctx, rc, "pat@example.com", "wrong-password"); !errors.Is(err, stackauth.ErrInvalidCredentials) {
		t.Fatalf("wrong password = %v, want invalid credentials", err)
	}
	// Unknown address reads the same as a wrong password.
	if _, err := auth.SignIn(ctx, rc, "nobody@example.com", "hunter2hunter2"); !errors.Is(err, stackauth.ErrInvalidCredentials) {
		t.Fatalf("unknown address = %v, want invalid credentials", err)
	}
}

func TestPasswordMinLength(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	auth := &stackauth.PasswordAuth{Store: store}
	rc := clientContext(defaultPolicy())

	if _, err := auth.SignUp(ctx, rc, "pat@example.com", "short"); !errors.Is(err, stackauth.ErrPasswordRequirementsNotMet) {
		t.Fatalf("short sign-up password = %v", err)
	}
	user := createTestUser(t, store)
	if err := auth.Set(ctx, rc, user.ID, "short"); !errors.Is(err, stackauth.ErrPasswordRequirementsNotMet) {
		t.Fatalf("short set password = %v", err)
	}
}

func TestPasswordUpdate(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	auth := &stackauth.PasswordAuth{Store: store}
	rc := clientContext(defaultPolicy())

	ev, err := auth.SignUp(ctx, rc, "pat@example.com", "first-password")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	created, err := resolver.Resolve(ctx, rc, ev)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	err = auth.Update(ctx, rc, created.User.ID, "wrong-old", "second-password")
	if !errors.Is(err, stackauth.ErrInvalidCredentials) {
		t.Fatalf("update with wrong old password = %v", err)
	}
	if err := auth.Update(ctx, rc, created.User.ID, "first-password", "second-password"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := auth.SignIn(ctx, rc, "pat@example.com", "first-password"); !errors.Is(err, stackauth.ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := auth.SignIn(ctx, rc, "pat@example.com", "second-password"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}
