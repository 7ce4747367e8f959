package stackauth_test

import (
	"testing"
	"time"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/stores/mem"
	"github.com/yonasBSD/stack-sub000/tokens"
)

const testProject = "proj-1"

func defaultPolicy() stackauth.AuthPolicy {
	return stackauth.AuthPolicy{
		AllowSignUp:             true,
		AnonymousEnabled:        true,
		PasswordEnabled:         true,
		OTPEnabled:              true,
		PasskeyEnabled:          true,
		OAuthEnabled:            true,
		MergeStrategy:           stackauth.MergeRaiseError,
		PersonalTeamDefaultName: "Personal Team",
	}
}

func clientContext(policy stackauth.AuthPolicy) stackauth.RequestContext {
	return stackauth.RequestContext{
		ProjectID:  testProject,
		AccessType: stackauth.AccessClient,
		Policy:     policy,
	}
}

func newResolver(store stackauth.Store) *stackauth.Resolver {
	return &stackauth.Resolver{Store: store, Webhooks: stackauth.NopWebhooks{}}
}

func newTestCodec(t *testing.T) *tokens.Codec {
	t.Helper()
	signing, err := tokens.GenerateKey("test", false)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	anon, err := tokens.GenerateKey("test-anon", true)
	if err != nil {
		t.Fatalf("generate anonymous key: %v", err)
	}
	codec, err := tokens.NewCodec("test-issuer", time.Hour, signing, anon)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func newSessions(t *testing.T, store stackauth.Store) *stackauth.Sessions {
	t.Helper()
	return &stackauth.Sessions{Store: store, Codec: newTestCodec(t)}
}

func newStore() *mem.Store { return mem.New() }
