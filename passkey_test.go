package stackauth_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func newPasskey(t *testing.T, store stackauth.Store) *stackauth.PasskeyAuth {
	t.Helper()
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Test RP",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
	})
	if err != nil {
		t.Fatalf("webauthn.New: %v", err)
	}
	return &stackauth.PasskeyAuth{Store: store, WebAuthn: wa}
}

func TestPasskeyDisabledByPolicy(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	pk := newPasskey(t, store)
	user := createTestUser(t, store)

	policy := defaultPolicy()
	policy.PasskeyEnabled = false
	rc := clientContext(policy)

	var known *stackauth.KnownError
	if _, _, err := pk.BeginRegistration(ctx, rc, user.ID); !errors.As(err, &known) || known.Code != stackauth.CodeAuthMethodNotEnabled {
		t.Fatalf("begin registration = %v", err)
	}
	if _, _, err := pk.BeginSignIn(ctx, rc); !errors.As(err, &known) || known.Code != stackauth.CodeAuthMethodNotEnabled {
		t.Fatalf("begin sign-in = %v", err)
	}
}

func TestPasskeyBeginRegistration(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	pk := newPasskey(t, store)
	user := createTestUser(t, store)
	rc := clientContext(defaultPolicy())

	options, flowID, err := pk.BeginRegistration(ctx, rc, user.ID)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if flowID == "" {
		t.Fatal("empty flow id")
	}
	var creation struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			User      struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(options, &creation); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if creation.PublicKey.Challenge == "" {
		t.Error("no challenge in creation options")
	}

	// An unknown user cannot start a ceremony.
	if _, _, err := pk.BeginRegistration(ctx, rc, "no-such-user"); !errors.Is(err, stackauth.ErrUserNotFound) {
		t.Fatalf("unknown user = %v", err)
	}
}

func TestPasskeyFlowIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	pk := newPasskey(t, store)
	rc := clientContext(defaultPolicy())

	_, flowID, err := pk.BeginSignIn(ctx, rc)
	if err != nil {
		t.Fatalf("begin sign-in: %v", err)
	}

	// A malformed response still consumes the flow.
	if _, err := pk.FinishSignIn(ctx, rc, flowID, []byte(`not json`)); !errors.Is(err, stackauth.ErrPasskeyVerificationFailed) {
		t.Fatalf("malformed finish = %v", err)
	}
	if _, err := pk.FinishSignIn(ctx, rc, flowID, []byte(`{}`)); !errors.Is(err, stackauth.ErrVerificationCodeAlreadyUsed) {
		t.Fatalf("replayed flow = %v", err)
	}
}

func TestPasskeyFlowKindMismatch(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	pk := newPasskey(t, store)
	rc := clientContext(defaultPolicy())

	// A login flow id cannot finish a registration.
	_, flowID, err := pk.BeginSignIn(ctx, rc)
	if err != nil {
		t.Fatalf("begin sign-in: %v", err)
	}
	if err := pk.FinishRegistration(ctx, rc, flowID, []byte(`{}`)); !errors.Is(err, stackauth.ErrPasskeyVerificationFailed) {
		t.Fatalf("cross-kind finish = %v", err)
	}
}
