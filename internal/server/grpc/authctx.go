package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/cardkeeper/internal/auth"
	"github.com/and161185/cardkeeper/internal/errs"
)

// healthPrefix covers the standard health service, which stays public.
const healthPrefix = "/grpc.health.v1.Health/"

// AuthUnary verifies the bearer token from the "authorization" metadata and stores the identity
// in the handler context.
func AuthUnary(v *auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return next(ctx, req)
		}
		raw, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		id, err := v.Verify(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(auth.WithIdentity(ctx, id), req)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errs.ErrUnauthorized
	}
	for _, v := range md.Get("authorization") {
		if t, err := auth.BearerToken(v); err == nil {
			return t, nil
		}
	}
	return "", errs.ErrUnauthorized
}

func identity(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}
