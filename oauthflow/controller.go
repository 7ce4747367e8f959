package oauthflow

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/tokens"
)

// Controller drives the full OAuth flow: Authorize sends the browser
// to the provider, Callback exchanges the provider's code and mints a
// one-time outer code, TokenExchange redeems that code for a session.
type Controller struct {
	Store     stackauth.Store
	Providers map[string]*Provider
	Resolver  *stackauth.Resolver
	Sessions  *stackauth.Sessions
	Codec     *tokens.Codec

	// CookieSecret signs the inner flow state cookie.
	CookieSecret []byte
	// FlowTTL bounds both the cookie and the outer code lifetime.
	FlowTTL time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) flowTTL() time.Duration {
	if c.FlowTTL > 0 {
		return c.FlowTTL
	}
	return 10 * time.Minute
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// AuthorizeRequest is the start of an OAuth sign-in.
type AuthorizeRequest struct {
	ProviderID  string
	RedirectURI string
	// State is the calling app's opaque state, echoed back on the final
	// redirect.
	State string
	// CodeChallenge/Method implement PKCE; only S256 is accepted.
	CodeChallenge       string
	CodeChallengeMethod string
	// Token optionally carries the caller's current access token so an
	// anonymous session survives the cross-site redirect; cookies do
	// not, the flow state does.
	Token string
}

// AuthorizeResult is the provider redirect plus the state cookie to set.
type AuthorizeResult struct {
	AuthURL string
	Cookie  *http.Cookie
}

// Authorize validates the request and builds the provider redirect.
// The redirect URI must match a trusted domain exactly on
// scheme, host and port.
func (c *Controller) Authorize(ctx context.Context, rc stackauth.RequestContext, req AuthorizeRequest) (*AuthorizeResult, error) {
	if !rc.Policy.OAuthEnabled {
		return nil, stackauth.NewAuthMethodDisabledError(stackauth.MethodOAuth)
	}
	provider, ok := c.Providers[req.ProviderID]
	if !ok {
		return nil, stackauth.ErrOAuthProviderNotFound
	}
	if err := ValidateRedirect(rc.Policy, req.RedirectURI); err != nil {
		return nil, err
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != "S256" {
		return nil, stackauth.ErrInvalidPKCEVerifier.WithDetails(map[string]any{
			"reason": "only the S256 code challenge method is supported",
		})
	}

	upgradeUserID := ""
	if req.Token != "" {
		claims, err := c.Codec.Verify(req.Token)
		if err != nil {
			return nil, stackauth.ErrTokenInvalid
		}
		if claims.IsAnonymous {
			upgradeUserID = claims.Subject
		}
	}

	innerState, err := stackauth.GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := c.now()
	cookieValue, err := signFlowState(c.CookieSecret, flowState{
		ProviderID:    req.ProviderID,
		InnerState:    innerState,
		RedirectURI:   req.RedirectURI,
		ClientState:   req.State,
		CodeChallenge: req.CodeChallenge,
		UpgradeUserID: upgradeUserID,
		ExpiresAt:     now.Add(c.flowTTL()).Unix(),
	})
	if err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		AuthURL: provider.Config.AuthCodeURL(innerState, oauth2.AccessTypeOffline),
		Cookie: &http.Cookie{
			Name:     FlowCookieName,
			Value:    cookieValue,
			Path:     "/",
			MaxAge:   int(c.flowTTL().Seconds()),
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		},
	}, nil
}

// outerCodePayload is stored (JSON) under the outer authorization code
// and replayed at token exchange.
type outerCodePayload struct {
	Event         stackauth.AuthenticationEvent `json:"event"`
	RedirectURI   string                        `json:"redirect_uri"`
	CodeChallenge string                        `json:"code_challenge,omitempty"`
	UpgradeUserID string                        `json:"upgrade_user_id,omitempty"`
}

// Callback handles the provider's return leg. On success it returns
// the URL to send the browser to: the validated redirect URI carrying
// a fresh single-use code and the app's original state.
func (c *Controller) Callback(ctx context.Context, rc stackauth.RequestContext, stateCookie, state, providerCode string) (string, error) {
	st, err := verifyFlowState(c.CookieSecret, stateCookie, c.now())
	if err != nil {
		return "", stackauth.ErrInvalidOAuthState
	}
	if subtle.ConstantTimeCompare([]byte(st.InnerState), []byte(state)) != 1 {
		return "", stackauth.ErrInvalidOAuthState
	}
	provider, ok := c.Providers[st.ProviderID]
	if !ok {
		return "", stackauth.ErrOAuthProviderNotFound
	}

	tok, err := provider.Config.Exchange(ctx, providerCode)
	if err != nil {
		return "", fmt.Errorf("exchange provider code: %w", err)
	}
	info, err := provider.FetchUserInfo(ctx, tok)
	if err != nil {
		return "", err
	}

	ev := stackauth.AuthenticationEvent{
		Method:               stackauth.MethodOAuth,
		ContactType:          stackauth.ContactEmail,
		ContactValue:         info.Email,
		NormalizedValue:      stackauth.NormalizeEmail(info.Email),
		ProviderConfigID:     provider.ID,
		ProviderType:         provider.Type,
		ProviderAccountID:    info.AccountID,
		VerifiedByProvider:   info.EmailVerified,
		PreferredDisplayName: info.DisplayName,
	}

	outerCode, err := stackauth.GenerateSecureToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(outerCodePayload{
		Event:         ev,
		RedirectURI:   st.RedirectURI,
		CodeChallenge: st.CodeChallenge,
		UpgradeUserID: st.UpgradeUserID,
	})
	if err != nil {
		return "", err
	}
	now := c.now()
	if err := c.Store.CreateCode(ctx, &stackauth.VerificationCode{
		ID:        uuid.NewString(),
		ProjectID: rc.ProjectID,
		Kind:      stackauth.CodeKindOAuthOuter,
		CodeHash:  stackauth.HashCode(outerCode),
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(c.flowTTL()),
	}); err != nil {
		return "", fmt.Errorf("store authorization code: %w", err)
	}

	c.logger().InfoContext(ctx, "oauth callback completed",
		"project", rc.ProjectID, "provider", provider.Type)

	redirect, err := url.Parse(st.RedirectURI)
	if err != nil {
		return "", stackauth.ErrRedirectURLNotWhitelisted
	}
	q := redirect.Query()
	q.Set("code", outerCode)
	if st.ClientState != "" {
		q.Set("state", st.ClientState)
	}
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// TokenResult is the outcome of a successful token exchange.
type TokenResult struct {
	User      *stackauth.User
	Outcome   stackauth.Outcome
	TokenPair stackauth.TokenPair
}

// TokenExchange redeems the outer authorization code. Redemption is
// atomic, so a code replayed concurrently succeeds at most once. The
// PKCE verifier is checked against the challenge bound at Authorize,
// and the redirect URI must repeat the one the code was issued for.
func (c *Controller) TokenExchange(ctx context.Context, rc stackauth.RequestContext, code, codeVerifier, redirectURI string) (*TokenResult, error) {
	vc, err := c.Store.ConsumeCode(ctx, rc.ProjectID, stackauth.CodeKindOAuthOuter, stackauth.HashCode(code), c.now())
	if err != nil {
		return nil, err
	}
	var payload outerCodePayload
	if err := json.Unmarshal(vc.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode authorization code payload: %w", err)
	}
	if redirectURI != payload.RedirectURI {
		return nil, stackauth.ErrRedirectURLNotWhitelisted
	}
	if payload.CodeChallenge != "" {
		if !verifyPKCE(payload.CodeChallenge, codeVerifier) {
			return nil, stackauth.ErrInvalidPKCEVerifier
		}
	}

	if payload.UpgradeUserID != "" && rc.Caller == nil {
		// Rehydrate the anonymous caller captured at Authorize so the
		// resolver can upgrade in place.
		rc.Caller = &stackauth.Caller{UserID: payload.UpgradeUserID, IsAnonymous: true}
	}

	// Resolution and session creation share one transaction so a failed
	// session write rolls the resolved identity back with it.
	var (
		resolution *stackauth.Resolution
		pair       stackauth.TokenPair
	)
	err = c.Store.InTransaction(ctx, func(tx stackauth.Store) error {
		var err error
		resolution, err = c.Resolver.WithStore(tx).Resolve(ctx, rc, payload.Event)
		if err != nil {
			return err
		}
		_, pair, err = c.Sessions.WithStore(tx).Create(ctx, rc, resolution.User, stackauth.CreateSessionOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &TokenResult{User: resolution.User, Outcome: resolution.Outcome, TokenPair: pair}, nil
}

// verifyPKCE checks base64url(sha256(verifier)) against the challenge
// in constant time.
func verifyPKCE(challenge, verifier string) bool {
	if verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateRedirect checks the redirect URI against the project's
// trusted domains. Matching is exact on scheme, host and port; a
// trusted https://example.com does not cover http://example.com or
// https://sub.example.com. AllowLocalhost additionally permits any
// loopback URL on any port for development.
func ValidateRedirect(policy stackauth.AuthPolicy, redirectURI string) error {
	target, err := url.Parse(redirectURI)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return stackauth.ErrRedirectURLNotWhitelisted
	}
	if policy.AllowLocalhost && isLoopback(target.Hostname()) {
		return nil
	}
	for _, domain := range policy.TrustedDomains {
		trusted, err := url.Parse(domain)
		if err != nil || trusted.Scheme == "" || trusted.Host == "" {
			continue
		}
		if target.Scheme == trusted.Scheme && canonicalHost(target) == canonicalHost(trusted) {
			return nil
		}
	}
	return stackauth.ErrRedirectURLNotWhitelisted
}

func isLoopback(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// canonicalHost normalizes the implicit default port so that
// https://example.com and https://example.com:443 compare equal.
func canonicalHost(u *url.URL) string {
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host += ":443"
		case "http":
			host += ":80"
		}
	}
	return host
}
