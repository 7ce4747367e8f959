// Package tokens issues and verifies the two token kinds of the auth
// core: signed, short-lived access tokens (stateless JWTs) and opaque,
// high-entropy refresh tokens (stateful, stored hashed by the session
// store and only ever compared).
package tokens

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers bad signature, expiry and unknown key ids
// alike; the transport layer decides the status code.
var ErrInvalidToken = errors.New("access token is invalid, expired, or signed with an unknown key")

// Claims is the access-token payload. Verification is pure signature
// plus expiry and never consults storage, which is why an access token
// can briefly outlive a concurrently revoked session.
type Claims struct {
	jwt.RegisteredClaims
	Role           string `json:"role,omitempty"`
	RefreshTokenID string `json:"refresh_token_id,omitempty"`
	IsAnonymous    bool   `json:"is_anonymous,omitempty"`
}

// AccessTokenParams carries everything an access token encodes.
type AccessTokenParams struct {
	UserID    string
	SessionID string
	Audience  string
	Role      string
	Anonymous bool
}

// SigningKey is one member of the project's key set. Anonymous users
// are signed under keys with Anonymous set, whose kid lets verifiers
// filter anonymous tokens without decoding payloads.
type SigningKey struct {
	ID        string
	Anonymous bool
	Key       *rsa.PrivateKey
}

// GenerateKey creates a fresh RSA signing key.
func GenerateKey(kid string, anonymous bool) (SigningKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return SigningKey{}, fmt.Errorf("generate signing key: %w", err)
	}
	return SigningKey{ID: kid, Anonymous: anonymous, Key: key}, nil
}

// Codec signs and verifies access tokens for one project. The first
// non-anonymous key is the current signer (likewise for anonymous);
// every key in the set verifies, which is how rotated-out keys keep
// old tokens valid until expiry. Immutable after construction, so it
// is safe for unbounded concurrent use.
type Codec struct {
	issuer  string
	ttl     time.Duration
	keys    []SigningKey
	byKid   map[string]SigningKey
	signer  SigningKey
	anonKey SigningKey
	hasAnon bool
}

// NewCodec builds a codec from the key set. At least one non-anonymous
// key is required; an anonymous key only if anonymous users will be
// issued tokens.
func NewCodec(issuer string, accessTokenTTL time.Duration, keys ...SigningKey) (*Codec, error) {
	c := &Codec{
		issuer: issuer,
		ttl:    accessTokenTTL,
		keys:   keys,
		byKid:  make(map[string]SigningKey, len(keys)),
	}
	for _, k := range keys {
		if _, dup := c.byKid[k.ID]; dup {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		c.byKid[k.ID] = k
		if k.Anonymous {
			if !c.hasAnon {
				c.anonKey = k
				c.hasAnon = true
			}
		} else if c.signer.Key == nil {
			c.signer = k
		}
	}
	if c.signer.Key == nil {
		return nil, errors.New("codec requires at least one non-anonymous signing key")
	}
	return c, nil
}

// TTL returns the configured access-token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue mints a signed access token.
func (c *Codec) Issue(p AccessTokenParams) (string, error) {
	key := c.signer
	if p.Anonymous {
		if !c.hasAnon {
			return "", errors.New("no anonymous signing key configured")
		}
		key = c.anonKey
	}
	role := p.Role
	if role == "" {
		role = "authenticated"
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{p.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		Role:           role,
		RefreshTokenID: p.SessionID,
		IsAnonymous:    p.Anonymous,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.ID
	signed, err := token.SignedString(key.Key)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry against the key set. Invalid
// signature, expired token, or an unknown kid all yield
// ErrInvalidToken.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := c.byKid[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return &key.Key.PublicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken returns an opaque 256-bit random token.
func NewRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken derives the storage lookup key for a refresh token.
// Only the hash is persisted.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// JWK is one JWKS entry.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the key-discovery document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the public key set. Anonymous-only keys are omitted
// unless includeAnonymous is set, so default consumers reject anonymous
// tokens without decoding them.
func (c *Codec) JWKS(includeAnonymous bool) JWKS {
	out := JWKS{Keys: []JWK{}}
	for _, k := range c.keys {
		if k.Anonymous && !includeAnonymous {
			continue
		}
		pub := &k.Key.PublicKey
		out.Keys = append(out.Keys, JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: k.ID,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}
