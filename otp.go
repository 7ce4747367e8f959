package stackauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OTPAuth implements one-time-code (magic link) sign-in. A code is
// bound to a specific mailbox, expires, and is redeemable exactly once;
// the store's ConsumeCode is the atomicity point.
type OTPAuth struct {
	Store   Store
	Mailbox Mailbox
	BaseURL string
	CodeTTL time.Duration

	Now func() time.Time
}

func (o *OTPAuth) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *OTPAuth) ttl() time.Duration {
	if o.CodeTTL > 0 {
		return o.CodeTTL
	}
	return 30 * time.Minute
}

// SendSignInCode mails a sign-in code to the address. When the address
// does not belong to any account and sign-up is disabled, the failure
// is reported up front instead of after the user clicks the link.
func (o *OTPAuth) SendSignInCode(ctx context.Context, rc RequestContext, email string) error {
	if !rc.Policy.OTPEnabled {
		return NewAuthMethodDisabledError(MethodOTP)
	}
	norm := NormalizeEmail(email)
	ch, err := o.Store.FindAuthChannel(ctx, rc.ProjectID, ContactEmail, norm)
	if err != nil {
		return err
	}
	isAnonymousUpgrade := rc.Caller != nil && rc.Caller.IsAnonymous
	if ch == nil && !rc.Policy.AllowSignUp && !isAnonymousUpgrade {
		return ErrSignUpNotEnabled
	}

	code, err := GenerateSecureToken()
	if err != nil {
		return err
	}
	now := o.now()
	if err := o.Store.CreateCode(ctx, &VerificationCode{
		ID:        uuid.NewString(),
		ProjectID: rc.ProjectID,
		Kind:      CodeKindOTPSignIn,
		CodeHash:  HashCode(code),
		Recipient: email,
		CreatedAt: now,
		ExpiresAt: now.Add(o.ttl()),
	}); err != nil {
		return fmt.Errorf("create sign-in code: %w", err)
	}
	return o.Mailbox.Send(ctx, email, TemplateOTPSignIn, map[string]any{
		"code": code,
		"link": fmt.Sprintf("%s/auth/otp/sign-in?code=%s", o.BaseURL, code),
	})
}

// SignIn redeems a sign-in code. Redemption proves mailbox ownership,
// so the resulting event is marked verified; if the mailbox already
// backs an auth channel the event signs in its owner, otherwise the
// resolver runs the create/upgrade path.
func (o *OTPAuth) SignIn(ctx context.Context, rc RequestContext, code string) (AuthenticationEvent, error) {
	if !rc.Policy.OTPEnabled {
		return AuthenticationEvent{}, NewAuthMethodDisabledError(MethodOTP)
	}
	vc, err := o.Store.ConsumeCode(ctx, rc.ProjectID, CodeKindOTPSignIn, HashCode(code), o.now())
	if err != nil {
		return AuthenticationEvent{}, err
	}

	norm := NormalizeEmail(vc.Recipient)
	ev := AuthenticationEvent{
		Method:             MethodOTP,
		ContactType:        ContactEmail,
		ContactValue:       vc.Recipient,
		NormalizedValue:    norm,
		VerifiedByProvider: true,
	}
	ch, err := o.Store.FindAuthChannel(ctx, rc.ProjectID, ContactEmail, norm)
	if err != nil {
		return AuthenticationEvent{}, err
	}
	if ch != nil {
		ev.ExistingUserID = ch.UserID
		// Redemption also proves the channel, even if it was created
		// unverified via password sign-up.
		if !ch.IsVerified {
			ch.IsVerified = true
			if err := o.Store.SaveChannel(ctx, ch); err != nil {
				return AuthenticationEvent{}, fmt.Errorf("save channel: %w", err)
			}
		}
	}
	return ev, nil
}
