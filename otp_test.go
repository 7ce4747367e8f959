package stackauth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	stackauth "github.com/yonasBSD/stack-sub000"
)

// captureMailbox records sent mail so tests can pull codes out of it.
type captureMailbox struct {
	to       string
	template string
	vars     map[string]any
}

func (c *captureMailbox) Send(ctx context.Context, to, templateID string, vars map[string]any) error {
	c.to = to
	c.template = templateID
	c.vars = vars
	return nil
}

func (c *captureMailbox) code(t *testing.T) string {
	t.Helper()
	code, ok := c.vars["code"].(string)
	if !ok || code == "" {
		t.Fatalf("no code in mail vars: %v", c.vars)
	}
	return code
}

func newOTP(store stackauth.Store, mail *captureMailbox) *stackauth.OTPAuth {
	return &stackauth.OTPAuth{Store: store, Mailbox: mail, BaseURL: "https://auth.test"}
}

func TestOTPSignInCreatesUser(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	mail := &captureMailbox{}
	otp := newOTP(store, mail)
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	if err := otp.SendSignInCode(ctx, rc, "quinn@example.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mail.template != stackauth.TemplateOTPSignIn {
		t.Errorf("template = %q", mail.template)
	}

	ev, err := otp.SignIn(ctx, rc, mail.code(t))
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !ev.VerifiedByProvider {
		t.Error("code redemption should mark the event verified")
	}
	res, err := resolver.Resolve(ctx, rc, ev)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != stackauth.OutcomeCreated {
		t.Errorf("outcome = %q, want created", res.Outcome)
	}
	channels, err := store.ListUserChannels(ctx, testProject, res.User.ID)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 || !channels[0].IsVerified {
		t.Errorf("channels = %+v, want one verified channel", channels)
	}
}

func TestOTPCodeSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	mail := &captureMailbox{}
	otp := newOTP(store, mail)
	rc := clientContext(defaultPolicy())

	if err := otp.SendSignInCode(ctx, rc, "quinn@example.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := mail.code(t)
	if _, err := otp.SignIn(ctx, rc, code); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if _, err := otp.SignIn(ctx, rc, code); !errors.Is(err, stackauth.ErrVerificationCodeAlreadyUsed) {
		t.Fatalf("second redemption = %v, want already used", err)
	}
	if _, err := otp.SignIn(ctx, rc, "0000000000000000"); !errors.Is(err, stackauth.ErrVerificationCodeNotFound) {
		t.Fatalf("bogus code = %v, want not found", err)
	}
}

func TestOTPCodeRowDoesNotEmbedSecret(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	mail := &captureMailbox{}
	otp := newOTP(store, mail)
	rc := clientContext(defaultPolicy())

	if err := otp.SendSignInCode(ctx, rc, "quinn@example.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := mail.code(t)
	vc, err := store.ConsumeCode(ctx, testProject, stackauth.CodeKindOTPSignIn, stackauth.HashCode(code), time.Now())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	// The row id is an opaque handle; a dump of the codes table must
	// not reveal any part of the mailed secret.
	if strings.Contains(code, vc.ID) {
		t.Errorf("code row id %q is a fragment of the code", vc.ID)
	}
}

func TestOTPSendGateWhenSignUpDisabled(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	mail := &captureMailbox{}
	otp := newOTP(store, mail)
	resolver := newResolver(store)

	policy := defaultPolicy()
	policy.AllowSignUp = false
	rc := clientContext(policy)

	// Unknown address fails before any mail goes out.
	err := otp.SendSignInCode(ctx, rc, "new@example.com")
	if !errors.Is(err, stackauth.ErrSignUpNotEnabled) {
		t.Fatalf("send to unknown address = %v, want SIGN_UP_NOT_ENABLED", err)
	}
	if mail.vars != nil {
		t.Error("mail sent despite the gate")
	}

	// An existing account keeps working.
	open := clientContext(defaultPolicy())
	if err := otp.SendSignInCode(ctx, open, "known@example.com"); err != nil {
		t.Fatalf("seed send: %v", err)
	}
	ev, err := otp.SignIn(ctx, open, mail.code(t))
	if err != nil {
		t.Fatalf("seed sign in: %v", err)
	}
	if _, err := resolver.Resolve(ctx, open, ev); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	if err := otp.SendSignInCode(ctx, rc, "known@example.com"); err != nil {
		t.Fatalf("send to existing account with sign-up disabled: %v", err)
	}

	// An anonymous caller is upgrading, not signing up fresh.
	rc.Caller = &stackauth.Caller{UserID: "anon-1", IsAnonymous: true}
	if err := otp.SendSignInCode(ctx, rc, "upgrade@example.com"); err != nil {
		t.Fatalf("anonymous upgrade send = %v, want nil", err)
	}
}

func TestOTPVerifiesExistingChannel(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	mail := &captureMailbox{}
	otp := newOTP(store, mail)
	resolver := newResolver(store)
	pw := &stackauth.PasswordAuth{Store: store}
	rc := clientContext(defaultPolicy())

	// Password sign-up leaves the channel unverified.
	ev, err := pw.SignUp(ctx, rc, "rory@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	created, err := resolver.Resolve(ctx, rc, ev)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := otp.SendSignInCode(ctx, rc, "rory@example.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev, err = otp.SignIn(ctx, rc, mail.code(t))
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if ev.ExistingUserID != created.User.ID {
		t.Errorf("resolved user %q, want %q", ev.ExistingUserID, created.User.ID)
	}
	channels, err := store.ListUserChannels(ctx, testProject, created.User.ID)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 || !channels[0].IsVerified {
		t.Error("code redemption should verify the channel")
	}
}

func TestOTPDisabledByPolicy(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	otp := newOTP(store, &captureMailbox{})

	policy := defaultPolicy()
	policy.OTPEnabled = false
	rc := clientContext(policy)

	var known *stackauth.KnownError
	if err := otp.SendSignInCode(ctx, rc, "a@example.com"); !errors.As(err, &known) || known.Code != stackauth.CodeAuthMethodNotEnabled {
		t.Fatalf("send = %v, want method-not-enabled", err)
	}
	if _, err := otp.SignIn(ctx, rc, "whatever"); !errors.As(err, &known) || known.Code != stackauth.CodeAuthMethodNotEnabled {
		t.Fatalf("sign in = %v, want method-not-enabled", err)
	}
}
