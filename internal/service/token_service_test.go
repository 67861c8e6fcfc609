package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"main-stack/internal/domain"
)

var tokenUser = domain.User{ID: "u1", Username: "ana", Email: "ana@example.com"}

func TestTokenService_IssueAndParseAccess(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, 7*24*time.Hour, nil)
	issuedAt := time.Now()

	pair, err := svc.Issue(context.Background(), tokenUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if d := pair.RefreshTokenExpiresAt.Sub(issuedAt); d < 7*24*time.Hour-2*time.Second || d > 7*24*time.Hour {
		t.Fatalf("unexpected refresh expiry offset %v", d)
	}
	if !pair.AccessTokenExpiresAt.Before(pair.RefreshTokenExpiresAt) {
		t.Fatalf("expected access token to expire first")
	}

	claims, err := svc.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID() != "u1" || claims.Username != "ana" || claims.Email != "ana@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(pair.AccessTokenExpiresAt) {
		t.Fatalf("token exp %v does not match response %v", claims.ExpiresAt.Time, pair.AccessTokenExpiresAt)
	}

	if _, err := svc.ParseAccessToken(pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not authenticate requests, got %v", err)
	}
	if _, err := svc.Rotate(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token must not rotate, got %v", err)
	}
}

func TestTokenService_RotateIsSingleUse(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, time.Hour, nil)
	ctx := context.Background()

	first, err := svc.Issue(ctx, tokenUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := svc.Rotate(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := svc.Rotate(ctx, first.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected reused refresh token rejected, got %v", err)
	}
	if _, err := svc.Rotate(ctx, second.RefreshToken); err != nil {
		t.Fatalf("expected rotated token valid, got %v", err)
	}
}

func TestTokenService_LogoutAndRevokeUser(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, time.Hour, nil)
	ctx := context.Background()

	loggedOut, _ := svc.Issue(ctx, tokenUser)
	if err := svc.Revoke(ctx, loggedOut.RefreshToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Rotate(ctx, loggedOut.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}

	phone, _ := svc.Issue(ctx, tokenUser)
	laptop, _ := svc.Issue(ctx, tokenUser)
	other, _ := svc.Issue(ctx, domain.User{ID: "u2", Username: "bob"})

	closed, err := svc.RevokeUser(ctx, "u1")
	if err != nil || closed != 2 {
		t.Fatalf("expected 2 sessions closed, got %d (%v)", closed, err)
	}
	for _, p := range []TokenPair{phone, laptop} {
		if _, err := svc.Rotate(ctx, p.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected session closed, got %v", err)
		}
	}
	if _, err := svc.Rotate(ctx, other.RefreshToken); err != nil {
		t.Fatalf("expected other user's session alive, got %v", err)
	}
}

func TestTokenService_Expiry(t *testing.T) {
	svc := NewTokenService("secret", time.Minute, time.Hour, nil)
	pair, err := svc.Issue(context.Background(), tokenUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := svc.ParseAccessToken(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := svc.Rotate(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("refresh token should outlive access token, got %v", err)
	}
}

func TestTokenService_RejectsForeignTokens(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, time.Hour, nil)
	other := NewTokenService("other-secret", time.Hour, time.Hour, nil)

	pair, _ := other.Issue(context.Background(), tokenUser)
	if _, err := svc.ParseAccessToken(pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}

	now := time.Now()
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind: kindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := forged.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ParseAccessToken(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong issuer, got %v", err)
	}

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Kind: kindAccess}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := svc.ParseAccessToken(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for alg none, got %v", err)
	}
}

func TestTokenService_RequiresSecret(t *testing.T) {
	svc := NewTokenService("", time.Hour, time.Hour, nil)
	if _, err := svc.Issue(context.Background(), tokenUser); !errors.Is(err, ErrTokenNotConfigured) {
		t.Fatalf("expected ErrTokenNotConfigured, got %v", err)
	}
}

func TestTokenService_RedisSessionsFollowRefreshExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewTokenService("secret", time.Hour, 24*time.Hour, NewRedisSessionStore(client))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, tokenUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.parse(pair.RefreshToken, kindRefresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	key := "auth:session:" + claims.ID
	want := time.Until(pair.RefreshTokenExpiresAt)
	if ttl := mr.TTL(key); ttl < want-2*time.Second || ttl > want+2*time.Second {
		t.Fatalf("session ttl %v does not follow refresh expiry %v", ttl, want)
	}

	if err := svc.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("expected session key removed on logout")
	}
	if _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected logged out token rejected, got %v", err)
	}
}
