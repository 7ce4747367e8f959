// Package grpcauth guards gRPC services with the same access tokens
// the HTTP API issues. Verification is signature-only against the
// token codec; no storage round trip per call.
package grpcauth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/tokens"
)

type callerKey struct{}

// CallerFromContext returns the verified caller, if any.
func CallerFromContext(ctx context.Context) (*stackauth.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(*stackauth.Caller)
	return c, ok
}

// Interceptor verifies bearer tokens from incoming metadata.
type Interceptor struct {
	Codec *tokens.Codec

	// AllowAnonymous admits tokens minted for anonymous users; most
	// backends should leave it off.
	AllowAnonymous bool

	// PublicMethods lists full method names that skip authentication.
	PublicMethods map[string]bool
}

func (i *Interceptor) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	if i.PublicMethods[fullMethod] {
		return ctx, nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization token")
	}
	raw := strings.TrimPrefix(values[0], "Bearer ")
	claims, err := i.Codec.Verify(raw)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid access token")
	}
	if claims.IsAnonymous && !i.AllowAnonymous {
		return nil, status.Error(codes.PermissionDenied, "anonymous tokens are not accepted")
	}
	caller := &stackauth.Caller{
		UserID:      claims.Subject,
		IsAnonymous: claims.IsAnonymous,
		SessionID:   claims.RefreshTokenID,
	}
	return context.WithValue(ctx, callerKey{}, caller), nil
}

// Unary returns the unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
