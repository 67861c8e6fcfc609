package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"main-stack/internal/domain"
)

const (
	tokenIssuer       = "main-stack"
	kindAccess        = "access"
	kindRefresh       = "refresh"
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenNotConfigured = errors.New("token secret not configured")
)

// TokenPair es lo que recibe el cliente al hacer login o rotar la sesion.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// Claims viajan en ambos tokens. El subject es el id del usuario y, en el
// refresh token, el jti es el id de la sesion.
type Claims struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

func (c Claims) UserID() string { return c.Subject }

// TokenService firma tokens HS256 y lleva las sesiones abiertas en un SessionStore.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessions   SessionStore
	now        func() time.Time
}

// NewTokenService usa un store en memoria cuando sessions es nil.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, sessions SessionStore) *TokenService {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		sessions:   sessions,
		now:        time.Now,
	}
}

// Issue abre una sesion nueva para user.
func (s *TokenService) Issue(ctx context.Context, user domain.User) (TokenPair, error) {
	if len(s.secret) == 0 {
		return TokenPair{}, ErrTokenNotConfigured
	}
	now := s.now().UTC().Truncate(time.Second)
	pair := TokenPair{
		AccessTokenExpiresAt:  now.Add(s.accessTTL),
		RefreshTokenExpiresAt: now.Add(s.refreshTTL),
	}

	var err error
	pair.AccessToken, err = s.sign(user, kindAccess, "", now, pair.AccessTokenExpiresAt)
	if err != nil {
		return TokenPair{}, err
	}
	sessionID := uuid.NewString()
	pair.RefreshToken, err = s.sign(user, kindRefresh, sessionID, now, pair.RefreshTokenExpiresAt)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.Open(ctx, sessionID, user.ID, pair.RefreshTokenExpiresAt); err != nil {
		return TokenPair{}, fmt.Errorf("open session: %w", err)
	}
	return pair, nil
}

// Rotate cambia un refresh token vigente por un par nuevo. El token usado
// queda revocado; reusarlo devuelve ErrTokenInvalid.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parse(refreshToken, kindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	owner, err := s.sessions.Consume(ctx, claims.ID)
	if errors.Is(err, ErrSessionNotFound) {
		return TokenPair{}, ErrTokenInvalid
	}
	if err != nil {
		return TokenPair{}, err
	}
	if owner != claims.Subject {
		return TokenPair{}, ErrTokenInvalid
	}
	return s.Issue(ctx, domain.User{ID: claims.Subject, Username: claims.Username, Email: claims.Email})
}

// Revoke cierra la sesion de refreshToken (logout).
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.parse(refreshToken, kindRefresh)
	if err != nil {
		return err
	}
	return s.sessions.Close(ctx, claims.ID)
}

// RevokeUser cierra todas las sesiones de userID. Los access tokens ya
// emitidos siguen validos hasta vencer.
func (s *TokenService) RevokeUser(ctx context.Context, userID string) (int, error) {
	return s.sessions.CloseAll(ctx, userID)
}

func (s *TokenService) ParseAccessToken(accessToken string) (Claims, error) {
	return s.parse(accessToken, kindAccess)
}

func (s *TokenService) sign(user domain.User, kind, sessionID string, now, expiresAt time.Time) (string, error) {
	claims := Claims{
		Username: user.Username,
		Email:    user.Email,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TokenService) parse(raw, kind string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrTokenNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrTokenInvalid
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	case err != nil:
		return Claims{}, ErrTokenInvalid
	}

	if claims.Kind != kind || strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrTokenInvalid
	}
	if kind == kindRefresh && claims.ID == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
