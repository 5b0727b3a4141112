package grpcserver

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/cardkeeper/internal/auth"
)

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	ic := AuthUnary(auth.NewVerifier(key, 0))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGetDueCards)}

	var seen auth.Identity
	h := func(ctx context.Context, req any) (any, error) {
		seen, _ = auth.FromContext(ctx)
		return "ok", nil
	}

	tok, err := auth.Sign(key, auth.Identity{UserID: "u1"}, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ic(ctxWithAuth(tok), nil, info, h); err != nil {
		t.Fatalf("valid token: %v", err)
	}
	if seen.UserID != "u1" {
		t.Fatalf("identity not propagated: %+v", seen)
	}

	expired, _ := auth.Sign(key, auth.Identity{UserID: "u1"}, -time.Minute, time.Now().Add(-time.Hour))
	for name, ctx := range map[string]context.Context{
		"none":    context.Background(),
		"garbage": ctxWithAuth("not-a-jwt"),
		"expired": ctxWithAuth(expired),
	} {
		_, err := ic(ctx, nil, info, h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", name, err)
		}
	}

	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := ic(context.Background(), nil, health, h); err != nil {
		t.Fatalf("health must be public: %v", err)
	}
}
