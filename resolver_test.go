package stackauth_test

import (
	"context"
	"errors"
	"testing"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func passwordSignUpEvent(email string) stackauth.AuthenticationEvent {
	return stackauth.AuthenticationEvent{
		Method:          stackauth.MethodPassword,
		ContactType:     stackauth.ContactEmail,
		ContactValue:    email,
		NormalizedValue: stackauth.NormalizeEmail(email),
		NewPasswordHash: "$2a$10$fakefakefakefakefakefake",
	}
}

func TestResolveCreatesUserWithPersonalTeam(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	res, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("alice@example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != stackauth.OutcomeCreated {
		t.Fatalf("outcome = %q, want created", res.Outcome)
	}
	if res.User.PrimaryEmail != "alice@example.com" {
		t.Errorf("primary email = %q", res.User.PrimaryEmail)
	}
	if res.User.PersonalTeamID == "" {
		t.Fatal("no personal team created")
	}
	team, err := store.GetTeam(ctx, testProject, res.User.PersonalTeamID)
	if err != nil || team == nil {
		t.Fatalf("get team: %v %v", team, err)
	}
	if team.DisplayName != "Personal Team" {
		t.Errorf("team name = %q", team.DisplayName)
	}
	ch, err := store.FindAuthChannel(ctx, testProject, stackauth.ContactEmail, "alice@example.com")
	if err != nil || ch == nil {
		t.Fatalf("auth channel missing: %v", err)
	}
	if ch.IsVerified {
		t.Error("password sign-up channel should start unverified")
	}
}

func TestResolveSignInByExistingUserID(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	created, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("bob@example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	res, err := resolver.Resolve(ctx, rc, stackauth.AuthenticationEvent{
		Method:         stackauth.MethodPassword,
		ExistingUserID: created.User.ID,
	})
	if err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	if res.Outcome != stackauth.OutcomeSignedIn {
		t.Errorf("outcome = %q, want signed_in", res.Outcome)
	}
	if res.User.ID != created.User.ID {
		t.Errorf("user id changed on sign-in")
	}
}

func TestResolveSignUpDisabled(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	policy := defaultPolicy()
	policy.AllowSignUp = false
	rc := clientContext(policy)

	_, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("carol@example.com"))
	if !errors.Is(err, stackauth.ErrSignUpNotEnabled) {
		t.Fatalf("err = %v, want SIGN_UP_NOT_ENABLED", err)
	}

	// Anonymous creation has its own switch and ignores the sign-up gate.
	res, err := resolver.Resolve(ctx, rc, stackauth.AnonymousEvent())
	if err != nil {
		t.Fatalf("anonymous resolve: %v", err)
	}
	if !res.User.IsAnonymous {
		t.Error("user should be anonymous")
	}

	// But upgrading that anonymous user is still a sign-up.
	rc.Caller = &stackauth.Caller{UserID: res.User.ID, IsAnonymous: true}
	_, err = resolver.Resolve(ctx, rc, passwordSignUpEvent("carol@example.com"))
	if !errors.Is(err, stackauth.ErrSignUpNotEnabled) {
		t.Fatalf("upgrade err = %v, want SIGN_UP_NOT_ENABLED", err)
	}
}

func TestResolveAnonymousDisabled(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.AnonymousEnabled = false
	resolver := newResolver(newStore())

	_, err := resolver.Resolve(ctx, clientContext(policy), stackauth.AnonymousEvent())
	if !errors.Is(err, stackauth.ErrAnonymousAccountsNotEnabled) {
		t.Fatalf("err = %v, want ANONYMOUS_ACCOUNTS_NOT_ENABLED", err)
	}
}

func TestResolveAnonymousUpgradeKeepsUserID(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	anon, err := resolver.Resolve(ctx, rc, stackauth.AnonymousEvent())
	if err != nil {
		t.Fatalf("anonymous resolve: %v", err)
	}

	rc.Caller = &stackauth.Caller{UserID: anon.User.ID, IsAnonymous: true}
	res, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("dave@example.com"))
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Outcome != stackauth.OutcomeUpgraded {
		t.Fatalf("outcome = %q, want upgraded", res.Outcome)
	}
	if res.User.ID != anon.User.ID {
		t.Errorf("upgrade minted a new user id: %q != %q", res.User.ID, anon.User.ID)
	}
	if res.User.IsAnonymous {
		t.Error("user still anonymous after upgrade")
	}

	// The personal team picks up the email while it still carries the
	// auto-generated default name.
	team, err := store.GetTeam(ctx, testProject, res.User.PersonalTeamID)
	if err != nil || team == nil {
		t.Fatalf("get team: %v", err)
	}
	if team.DisplayName != "dave@example.com's Team" {
		t.Errorf("team name = %q", team.DisplayName)
	}
}

func TestResolveUpgradeSkipsCustomizedTeamName(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	anon, err := resolver.Resolve(ctx, rc, stackauth.AnonymousEvent())
	if err != nil {
		t.Fatalf("anonymous resolve: %v", err)
	}
	team, _ := store.GetTeam(ctx, testProject, anon.User.PersonalTeamID)
	team.DisplayName = "Skunkworks"
	if err := store.SaveTeam(ctx, team); err != nil {
		t.Fatalf("save team: %v", err)
	}

	rc.Caller = &stackauth.Caller{UserID: anon.User.ID, IsAnonymous: true}
	if _, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("erin@example.com")); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	team, _ = store.GetTeam(ctx, testProject, anon.User.PersonalTeamID)
	if team.DisplayName != "Skunkworks" {
		t.Errorf("customized team name was overwritten: %q", team.DisplayName)
	}
}

func TestResolveSignInWhileAnonymousDoesNotMerge(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	existing, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("frank@example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	anon, err := resolver.Resolve(ctx, rc, stackauth.AnonymousEvent())
	if err != nil {
		t.Fatalf("anonymous resolve: %v", err)
	}

	// Signing in to an existing account while holding an anonymous
	// session switches identities; it never merges the two users.
	rc.Caller = &stackauth.Caller{UserID: anon.User.ID, IsAnonymous: true}
	res, err := resolver.Resolve(ctx, rc, stackauth.AuthenticationEvent{
		Method:         stackauth.MethodPassword,
		ExistingUserID: existing.User.ID,
	})
	if err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	if res.Outcome != stackauth.OutcomeSignedIn {
		t.Errorf("outcome = %q, want signed_in", res.Outcome)
	}
	if res.User.ID != existing.User.ID {
		t.Errorf("resolved wrong user")
	}
	orphan, err := store.GetUser(ctx, testProject, anon.User.ID)
	if err != nil || orphan == nil {
		t.Fatalf("anonymous user disappeared: %v", err)
	}
	if !orphan.IsAnonymous {
		t.Error("anonymous user was mutated by sign-in")
	}
}

func TestResolveMergeRaiseError(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	if _, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("grace@example.com")); err != nil {
		t.Fatalf("first sign-up: %v", err)
	}

	// Second sign-up for the same address: conflict under raise_error.
	_, err := resolver.Resolve(ctx, rc, stackauth.AuthenticationEvent{
		Method:             stackauth.MethodOAuth,
		ContactType:        stackauth.ContactEmail,
		ContactValue:       "grace@example.com",
		NormalizedValue:    "grace@example.com",
		ProviderConfigID:   "github",
		ProviderType:       "github",
		ProviderAccountID:  "12345",
		VerifiedByProvider: true,
	})
	ke, ok := stackauth.AsKnownError(err)
	if !ok || ke.Code != stackauth.CodeContactChannelInUse {
		t.Fatalf("err = %v, want contact channel in use", err)
	}
	// The password channel is unverified, so verifying it could resolve
	// the conflict.
	if ke.Details["would_work_if_email_was_verified"] != true {
		t.Errorf("details = %v", ke.Details)
	}

	// Once the channel is verified the conflict is final; verification
	// would no longer change anything.
	ch, _ := store.FindAuthChannel(ctx, testProject, stackauth.ContactEmail, "grace@example.com")
	ch.IsVerified = true
	if err := store.SaveChannel(ctx, ch); err != nil {
		t.Fatalf("save channel: %v", err)
	}
	_, err = resolver.Resolve(ctx, rc, stackauth.AuthenticationEvent{
		Method:             stackauth.MethodOAuth,
		ContactType:        stackauth.ContactEmail,
		ContactValue:       "grace@example.com",
		NormalizedValue:    "grace@example.com",
		ProviderConfigID:   "github",
		ProviderType:       "github",
		ProviderAccountID:  "12345",
		VerifiedByProvider: true,
	})
	ke, ok = stackauth.AsKnownError(err)
	if !ok || ke.Code != stackauth.CodeContactChannelInUse {
		t.Fatalf("err = %v, want contact channel in use", err)
	}
	if ke.Details["would_work_if_email_was_verified"] != false {
		t.Errorf("details = %v, want would_work_if_email_was_verified=false", ke.Details)
	}
}

func TestResolveWithZeroValueOptionals(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	// Only the store is wired; webhooks and logger fall back to
	// no-op defaults.
	resolver := &stackauth.Resolver{Store: store}

	res, err := resolver.Resolve(ctx, clientContext(defaultPolicy()), passwordSignUpEvent("kim@example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != stackauth.OutcomeCreated {
		t.Errorf("outcome = %q, want created", res.Outcome)
	}
}

func TestResolveMergeAllowDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	policy := defaultPolicy()
	policy.MergeStrategy = stackauth.MergeAllowDuplicates
	rc := clientContext(policy)

	first, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("heidi@example.com"))
	if err != nil {
		t.Fatalf("first sign-up: %v", err)
	}
	second, err := resolver.Resolve(ctx, rc, stackauth.AuthenticationEvent{
		Method:             stackauth.MethodOTP,
		ContactType:        stackauth.ContactEmail,
		ContactValue:       "heidi@example.com",
		NormalizedValue:    "heidi@example.com",
		VerifiedByProvider: true,
	})
	if err != nil {
		t.Fatalf("second sign-up: %v", err)
	}
	if second.User.ID == first.User.ID {
		t.Fatal("allow_duplicates should create a separate user")
	}

	// The auth channel still belongs to the first user only.
	ch, err := store.FindAuthChannel(ctx, testProject, stackauth.ContactEmail, "heidi@example.com")
	if err != nil || ch == nil {
		t.Fatalf("find auth channel: %v", err)
	}
	if ch.UserID != first.User.ID {
		t.Errorf("auth channel moved to the duplicate user")
	}
}

func TestResolveMergeLinkMethod(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	policy := defaultPolicy()
	policy.MergeStrategy = stackauth.MergeLinkMethod
	rc := clientContext(policy)

	first, err := resolver.Resolve(ctx, rc, passwordSignUpEvent("ivan@example.com"))
	if err != nil {
		t.Fatalf("first sign-up: %v", err)
	}

	// Unverified channel: linking is refused until ownership is proven.
	oauthEvent := stackauth.AuthenticationEvent{
		Method:             stackauth.MethodOAuth,
		ContactType:        stackauth.ContactEmail,
		ContactValue:       "ivan@example.com",
		NormalizedValue:    "ivan@example.com",
		ProviderConfigID:   "github",
		ProviderType:       "github",
		ProviderAccountID:  "999",
		VerifiedByProvider: true,
	}
	_, err = resolver.Resolve(ctx, rc, oauthEvent)
	ke, ok := stackauth.AsKnownError(err)
	if !ok || ke.Code != stackauth.CodeContactChannelInUse {
		t.Fatalf("err = %v, want contact channel in use", err)
	}

	// Verify the channel; the same event now links onto the owner.
	ch, _ := store.FindAuthChannel(ctx, testProject, stackauth.ContactEmail, "ivan@example.com")
	ch.IsVerified = true
	if err := store.SaveChannel(ctx, ch); err != nil {
		t.Fatalf("save channel: %v", err)
	}
	res, err := resolver.Resolve(ctx, rc, oauthEvent)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if res.Outcome != stackauth.OutcomeLinked {
		t.Errorf("outcome = %q, want linked", res.Outcome)
	}
	if res.User.ID != first.User.ID {
		t.Errorf("linked onto wrong user")
	}

	// The provider link now signs in directly.
	again, err := resolver.Resolve(ctx, rc, oauthEvent)
	if err != nil {
		t.Fatalf("oauth sign-in after link: %v", err)
	}
	if again.Outcome != stackauth.OutcomeSignedIn || again.User.ID != first.User.ID {
		t.Errorf("outcome = %q user = %q", again.Outcome, again.User.ID)
	}
}

func TestResolveOneSignInLinkPerProviderType(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	resolver := newResolver(store)
	rc := clientContext(defaultPolicy())

	first, err := resolver.Resolve(ctx, rc, stackauth.AuthenticationEvent{
		Method:             stackauth.MethodOAuth,
		ContactType:        stackauth.ContactEmail,
		ContactValue:       "judy@example.com",
		NormalizedValue:    "judy@example.com",
		ProviderConfigID:   "github",
		ProviderType:       "github",
		ProviderAccountID:  "1",
		VerifiedByProvider: true,
	})
	if err != nil {
		t.Fatalf("oauth sign-up: %v", err)
	}

	// A second github account cannot also get sign-in on the same user.
	rc.Caller = &stackauth.Caller{UserID: first.User.ID}
	links, _ := store.ListUserLinks(ctx, testProject, first.User.ID)
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
}
