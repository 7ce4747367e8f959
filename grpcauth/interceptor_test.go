package grpcauth

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/yonasBSD/stack-sub000/tokens"
)

func testCodec(t *testing.T) *tokens.Codec {
	t.Helper()
	signing, err := tokens.GenerateKey("k", false)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	anon, err := tokens.GenerateKey("k-anon", true)
	if err != nil {
		t.Fatalf("generate anon key: %v", err)
	}
	c, err := tokens.NewCodec("issuer", time.Hour, signing, anon)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func issue(t *testing.T, c *tokens.Codec, anonymous bool) string {
	t.Helper()
	raw, err := c.Issue(tokens.AccessTokenParams{
		UserID:    "u1",
		SessionID: "s1",
		Audience:  "p",
		Anonymous: anonymous,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return raw
}

func invoke(i *Interceptor, ctx context.Context, method string) (context.Context, error) {
	var seen context.Context
	_, err := i.Unary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
		seen = ctx
		return nil, nil
	})
	return seen, err
}

func withToken(raw string) context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+raw))
}

func TestUnaryAttachesCaller(t *testing.T) {
	codec := testCodec(t)
	i := &Interceptor{Codec: codec}

	ctx, err := invoke(i, withToken(issue(t, codec, false)), "/svc/Method")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	caller, ok := CallerFromContext(ctx)
	if !ok || caller.UserID != "u1" || caller.SessionID != "s1" {
		t.Fatalf("caller = %+v ok=%v", caller, ok)
	}
}

func TestUnaryRejectsMissingOrBadToken(t *testing.T) {
	i := &Interceptor{Codec: testCodec(t)}

	if _, err := invoke(i, context.Background(), "/svc/Method"); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("no metadata = %v", err)
	}
	if _, err := invoke(i, withToken("garbage"), "/svc/Method"); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("garbage token = %v", err)
	}
}

func TestUnaryAnonymousPolicy(t *testing.T) {
	codec := testCodec(t)
	anonToken := issue(t, codec, true)

	strict := &Interceptor{Codec: codec}
	if _, err := invoke(strict, withToken(anonToken), "/svc/Method"); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("anonymous on strict = %v", err)
	}

	lax := &Interceptor{Codec: codec, AllowAnonymous: true}
	ctx, err := invoke(lax, withToken(anonToken), "/svc/Method")
	if err != nil {
		t.Fatalf("anonymous on lax = %v", err)
	}
	caller, _ := CallerFromContext(ctx)
	if caller == nil || !caller.IsAnonymous {
		t.Fatalf("caller = %+v", caller)
	}
}

func TestPublicMethodsSkipAuth(t *testing.T) {
	i := &Interceptor{
		Codec:         testCodec(t),
		PublicMethods: map[string]bool{"/svc/Health": true},
	}
	if _, err := invoke(i, context.Background(), "/svc/Health"); err != nil {
		t.Fatalf("public method = %v", err)
	}
}
