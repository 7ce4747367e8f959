package oauthflow

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/stores/mem"
	"github.com/yonasBSD/stack-sub000/tokens"
)

func testPolicy() stackauth.AuthPolicy {
	return stackauth.AuthPolicy{
		AllowSignUp:             true,
		AnonymousEnabled:        true,
		OAuthEnabled:            true,
		PasswordEnabled:         true,
		MergeStrategy:           stackauth.MergeRaiseError,
		TrustedDomains:          []string{"https://app.example.com"},
		PersonalTeamDefaultName: "Personal Team",
	}
}

func testRC(policy stackauth.AuthPolicy) stackauth.RequestContext {
	return stackauth.RequestContext{
		ProjectID:  "proj-1",
		AccessType: stackauth.AccessClient,
		Policy:     policy,
	}
}

func TestValidateRedirect(t *testing.T) {
	policy := stackauth.AuthPolicy{
		TrustedDomains: []string{"https://app.example.com", "http://legacy.example.com:8080"},
	}
	cases := []struct {
		uri string
		ok  bool
	}{
		{"https://app.example.com/handler", true},
		{"https://app.example.com:443/handler", true},
		{"http://app.example.com/handler", false},
		{"https://app.example.com:444/handler", false},
		{"https://sub.app.example.com/handler", false},
		{"https://evil.com/handler", false},
		{"http://legacy.example.com:8080/cb", true},
		{"http://legacy.example.com/cb", false},
		{"http://localhost:3000/cb", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		err := ValidateRedirect(policy, tc.uri)
		if tc.ok && err != nil {
			t.Errorf("ValidateRedirect(%q) = %v, want nil", tc.uri, err)
		}
		if !tc.ok && !errors.Is(err, stackauth.ErrRedirectURLNotWhitelisted) {
			t.Errorf("ValidateRedirect(%q) = %v, want not whitelisted", tc.uri, err)
		}
	}
}

func TestValidateRedirectAllowLocalhost(t *testing.T) {
	policy := stackauth.AuthPolicy{AllowLocalhost: true}
	for _, uri := range []string{"http://localhost:3000/cb", "http://127.0.0.1:8080/cb"} {
		if err := ValidateRedirect(policy, uri); err != nil {
			t.Errorf("ValidateRedirect(%q) = %v, want nil with AllowLocalhost", uri, err)
		}
	}
	if err := ValidateRedirect(policy, "https://evil.com/cb"); err == nil {
		t.Error("AllowLocalhost must not open non-loopback hosts")
	}
}

func TestFlowStateTamperDetection(t *testing.T) {
	secret := []byte("cookie-secret")
	now := time.Now()
	raw, err := signFlowState(secret, flowState{
		ProviderID: "github",
		InnerState: "abc",
		ExpiresAt:  now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifyFlowState(secret, raw, now); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := verifyFlowState(secret, raw+"x", now); err == nil {
		t.Error("tampered signature accepted")
	}
	if _, err := verifyFlowState([]byte("other-secret"), raw, now); err == nil {
		t.Error("wrong secret accepted")
	}
	if _, err := verifyFlowState(secret, raw, now.Add(2*time.Minute)); err == nil {
		t.Error("expired state accepted")
	}
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "correct-horse-battery-staple"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	if !verifyPKCE(challenge, verifier) {
		t.Error("valid verifier rejected")
	}
	if verifyPKCE(challenge, "wrong-verifier") {
		t.Error("wrong verifier accepted")
	}
	if verifyPKCE(challenge, "") {
		t.Error("empty verifier accepted")
	}
}

// fakeProvider runs the upstream side of the dance: a token endpoint
// and a userinfo endpoint.
func fakeProvider(t *testing.T, email string, verified bool) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"upstream-token","token_type":"bearer"}`)
		case "/userinfo":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id": 4242, "email": %q, "email_verified": %v, "name": "Kay"}`, email, verified)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	p := &Provider{
		ID:   "github-conf",
		Type: "github",
		Config: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:  srv.URL + "/authorize",
				TokenURL: srv.URL + "/token",
			},
		},
		UserInfoURL: srv.URL + "/userinfo",
	}
	return p, srv
}

func testController(t *testing.T, store stackauth.Store, provider *Provider) *Controller {
	t.Helper()
	signing, err := tokens.GenerateKey("k", false)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	anon, err := tokens.GenerateKey("k-anon", true)
	if err != nil {
		t.Fatalf("generate anon key: %v", err)
	}
	codec, err := tokens.NewCodec("issuer", time.Hour, signing, anon)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return &Controller{
		Store:        store,
		Providers:    map[string]*Provider{provider.ID: provider},
		Resolver:     &stackauth.Resolver{Store: store, Webhooks: stackauth.NopWebhooks{}},
		Sessions:     &stackauth.Sessions{Store: store, Codec: codec},
		Codec:        codec,
		CookieSecret: []byte("test-cookie-secret"),
	}
}

func pkcePair() (challenge, verifier string) {
	verifier = "a-test-verifier-string-of-sufficient-length"
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), verifier
}

func TestOAuthFullFlow(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	provider, _ := fakeProvider(t, "kay@example.com", true)
	c := testController(t, store, provider)
	rc := testRC(testPolicy())
	challenge, verifier := pkcePair()

	result, err := c.Authorize(ctx, rc, AuthorizeRequest{
		ProviderID:          "github-conf",
		RedirectURI:         "https://app.example.com/handler",
		State:               "client-state-1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	authURL, err := url.Parse(result.AuthURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	innerState := authURL.Query().Get("state")
	if innerState == "" {
		t.Fatal("no state in provider redirect")
	}

	redirect, err := c.Callback(ctx, rc, result.Cookie.Value, innerState, "provider-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	redirectURL, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if got := redirectURL.Scheme + "://" + redirectURL.Host + redirectURL.Path; got != "https://app.example.com/handler" {
		t.Errorf("redirect target = %q", got)
	}
	if redirectURL.Query().Get("state") != "client-state-1" {
		t.Errorf("client state not echoed")
	}
	code := redirectURL.Query().Get("code")
	if code == "" {
		t.Fatal("no authorization code on redirect")
	}

	res, err := c.TokenExchange(ctx, rc, code, verifier, "https://app.example.com/handler")
	if err != nil {
		t.Fatalf("token exchange: %v", err)
	}
	if res.Outcome != stackauth.OutcomeCreated {
		t.Errorf("outcome = %q, want created", res.Outcome)
	}
	if res.User.PrimaryEmail != "kay@example.com" {
		t.Errorf("email = %q", res.User.PrimaryEmail)
	}
	if res.TokenPair.AccessToken == "" || res.TokenPair.RefreshToken == "" {
		t.Error("empty token pair")
	}

	// The outer code is single use.
	if _, err := c.TokenExchange(ctx, rc, code, verifier, "https://app.example.com/handler"); !errors.Is(err, stackauth.ErrVerificationCodeAlreadyUsed) {
		t.Fatalf("code replay = %v, want already used", err)
	}
}

func TestTokenExchangeRejectsWrongVerifier(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	provider, _ := fakeProvider(t, "leo@example.com", true)
	c := testController(t, store, provider)
	rc := testRC(testPolicy())
	challenge, _ := pkcePair()

	result, err := c.Authorize(ctx, rc, AuthorizeRequest{
		ProviderID:          "github-conf",
		RedirectURI:         "https://app.example.com/handler",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	authURL, _ := url.Parse(result.AuthURL)
	redirect, err := c.Callback(ctx, rc, result.Cookie.Value, authURL.Query().Get("state"), "provider-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	redirectURL, _ := url.Parse(redirect)
	code := redirectURL.Query().Get("code")

	_, err = c.TokenExchange(ctx, rc, code, "wrong-verifier", "https://app.example.com/handler")
	if !errors.Is(err, stackauth.ErrInvalidPKCEVerifier) {
		t.Fatalf("err = %v, want invalid PKCE verifier", err)
	}
}

func TestAuthorizeRejectsUntrustedRedirect(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	provider, _ := fakeProvider(t, "mia@example.com", true)
	c := testController(t, store, provider)
	rc := testRC(testPolicy())

	_, err := c.Authorize(ctx, rc, AuthorizeRequest{
		ProviderID:  "github-conf",
		RedirectURI: "https://evil.example.org/handler",
	})
	if !errors.Is(err, stackauth.ErrRedirectURLNotWhitelisted) {
		t.Fatalf("err = %v, want not whitelisted", err)
	}
}

func TestCallbackRejectsMismatchedState(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	provider, _ := fakeProvider(t, "nina@example.com", true)
	c := testController(t, store, provider)
	rc := testRC(testPolicy())

	result, err := c.Authorize(ctx, rc, AuthorizeRequest{
		ProviderID:  "github-conf",
		RedirectURI: "https://app.example.com/handler",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err = c.Callback(ctx, rc, result.Cookie.Value, "forged-state", "provider-code")
	if !errors.Is(err, stackauth.ErrInvalidOAuthState) {
		t.Fatalf("err = %v, want invalid OAuth state", err)
	}
}

func TestOAuthAnonymousUpgradeAcrossRedirect(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	provider, _ := fakeProvider(t, "oli@example.com", true)
	c := testController(t, store, provider)
	rc := testRC(testPolicy())

	// Establish an anonymous session first.
	anon, err := c.Resolver.Resolve(ctx, rc, stackauth.AnonymousEvent())
	if err != nil {
		t.Fatalf("anonymous resolve: %v", err)
	}
	_, pair, err := c.Sessions.Create(ctx, rc, anon.User, stackauth.CreateSessionOptions{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// The access token rides the authorize query so the identity
	// survives the cross-site redirect.
	result, err := c.Authorize(ctx, rc, AuthorizeRequest{
		ProviderID:  "github-conf",
		RedirectURI: "https://app.example.com/handler",
		Token:       pair.AccessToken,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	authURL, _ := url.Parse(result.AuthURL)
	redirect, err := c.Callback(ctx, rc, result.Cookie.Value, authURL.Query().Get("state"), "provider-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	redirectURL, _ := url.Parse(redirect)

	res, err := c.TokenExchange(ctx, rc, redirectURL.Query().Get("code"), "", "https://app.example.com/handler")
	if err != nil {
		t.Fatalf("token exchange: %v", err)
	}
	if res.Outcome != stackauth.OutcomeUpgraded {
		t.Fatalf("outcome = %q, want upgraded", res.Outcome)
	}
	if res.User.ID != anon.User.ID {
		t.Errorf("upgrade minted a new user id")
	}
	if res.User.IsAnonymous {
		t.Error("user still anonymous")
	}
}

// sessionWriteFailStore refuses session writes while delegating
// everything else, transactions included.
type sessionWriteFailStore struct {
	stackauth.Store
}

func (s *sessionWriteFailStore) CreateSession(context.Context, *stackauth.Session) error {
	return errors.New("session table unavailable")
}

func (s *sessionWriteFailStore) InTransaction(ctx context.Context, fn func(tx stackauth.Store) error) error {
	return s.Store.InTransaction(ctx, func(tx stackauth.Store) error {
		return fn(&sessionWriteFailStore{Store: tx})
	})
}

func TestTokenExchangeRollsBackWhenSessionWriteFails(t *testing.T) {
	ctx := context.Background()
	backing := mem.New()
	provider, _ := fakeProvider(t, "lee@example.com", true)
	c := testController(t, &sessionWriteFailStore{Store: backing}, provider)
	rc := testRC(testPolicy())

	result, err := c.Authorize(ctx, rc, AuthorizeRequest{
		ProviderID:  "github-conf",
		RedirectURI: "https://app.example.com/handler",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	authURL, _ := url.Parse(result.AuthURL)
	redirect, err := c.Callback(ctx, rc, result.Cookie.Value, authURL.Query().Get("state"), "provider-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	redirectURL, _ := url.Parse(redirect)

	if _, err := c.TokenExchange(ctx, rc, redirectURL.Query().Get("code"), "", "https://app.example.com/handler"); err == nil {
		t.Fatal("token exchange succeeded despite the failed session write")
	}

	// The resolved user and channel rolled back with the session.
	ch, err := backing.FindAuthChannel(ctx, rc.ProjectID, stackauth.ContactEmail, "lee@example.com")
	if err != nil {
		t.Fatalf("find channel: %v", err)
	}
	if ch != nil {
		t.Error("failed token exchange left a channel claiming the address")
	}
}
