// Package stackauth implements the identity and session core of a
// multi-tenant authentication service: credential verification
// (password, OTP, OAuth, passkey, anonymous), identity resolution with
// per-project account-linking policy, refresh-token backed sessions and
// signed access tokens.
//
// The package is transport-agnostic. HTTP handlers live in httpapi,
// gRPC interceptors in grpcauth, and storage adapters under stores/.
// Everything here operates on the Store interface and an explicit
// RequestContext; there is no ambient global state.
//
// Typical wiring:
//
//	store := mem.New()
//	key, _ := tokens.GenerateKey("key-1", false)
//	anonKey, _ := tokens.GenerateKey("key-1-anon", true)
//	codec, _ := tokens.NewCodec("my-issuer", time.Hour, key, anonKey)
//	resolver := &stackauth.Resolver{Store: store}
//	sessions := &stackauth.Sessions{Store: store, Codec: codec}
//
// A Resolver consumes the normalized AuthenticationEvent produced by a
// credential verifier and decides whether the event signs in an
// existing user, creates a new one, or upgrades the caller's anonymous
// account in place. Sessions then mints the token pair.
package stackauth
