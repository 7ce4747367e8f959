package tokens

import (
	"errors"
	"testing"
	"time"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	signing, err := GenerateKey("k1", false)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	anon, err := GenerateKey("k1-anon", true)
	if err != nil {
		t.Fatalf("generate anon key: %v", err)
	}
	c, err := NewCodec("issuer", time.Hour, signing, anon)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	c := testCodec(t)
	raw, err := c.Issue(AccessTokenParams{
		UserID:    "u1",
		SessionID: "s1",
		Audience:  "proj-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := c.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.RefreshTokenID != "s1" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Role != "authenticated" {
		t.Errorf("role = %q, want authenticated default", claims.Role)
	}
	if claims.IsAnonymous {
		t.Error("token should not be anonymous")
	}
}

func TestAnonymousTokenUsesAnonymousKey(t *testing.T) {
	c := testCodec(t)
	raw, err := c.Issue(AccessTokenParams{UserID: "u1", SessionID: "s1", Audience: "p", Anonymous: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := c.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !claims.IsAnonymous {
		t.Error("claims not marked anonymous")
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	a := testCodec(t)
	b := testCodec(t)
	raw, err := a.Issue(AccessTokenParams{UserID: "u1", SessionID: "s1", Audience: "p"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("verify with wrong key = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	signing, _ := GenerateKey("k1", false)
	c, err := NewCodec("issuer", -time.Minute, signing)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	raw, err := c.Issue(AccessTokenParams{UserID: "u1", SessionID: "s1", Audience: "p"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := c.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("verify expired = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	c := testCodec(t)
	if _, err := c.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWKSFiltersAnonymousKeys(t *testing.T) {
	c := testCodec(t)

	normal := c.JWKS(false)
	if len(normal.Keys) != 1 {
		t.Fatalf("default JWKS has %d keys, want 1", len(normal.Keys))
	}
	if normal.Keys[0].Kid != "k1" {
		t.Errorf("kid = %q", normal.Keys[0].Kid)
	}

	full := c.JWKS(true)
	if len(full.Keys) != 2 {
		t.Fatalf("full JWKS has %d keys, want 2", len(full.Keys))
	}
}

func TestRefreshTokenHashing(t *testing.T) {
	tok, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	other, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	if tok == other {
		t.Fatal("refresh tokens collide")
	}
	if HashRefreshToken(tok) == tok {
		t.Error("hash equals token")
	}
	if HashRefreshToken(tok) != HashRefreshToken(tok) {
		t.Error("hash not deterministic")
	}
}

func TestNewCodecRequiresSigningKey(t *testing.T) {
	anon, _ := GenerateKey("a", true)
	if _, err := NewCodec("issuer", time.Hour, anon); err == nil {
		t.Fatal("codec with only an anonymous key should fail")
	}
}
