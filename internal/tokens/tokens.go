package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cyhinverse/YiBu-sub004/internal/config"
	"github.com/cyhinverse/YiBu-sub004/internal/models"
	"github.com/cyhinverse/YiBu-sub004/pkg/middleware"
)

// Claims is the payload embedded in both access and refresh tokens. The
// role/isAdmin values are frozen at login time; a refresh carries them forward
// verbatim until the account logs in again.
type Claims struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// NewClaims builds the token payload for an account.
func NewClaims(a *models.Account) *Claims {
	return &Claims{
		ID:      a.ID.Hex(),
		Role:    string(a.Role),
		IsAdmin: a.Admin(),
	}
}

// GenerateAccessToken creates a signed JWT access token carrying the payload
func GenerateAccessToken(cfg *config.Config, c *Claims) (string, error) {
	return sign(c, cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
}

// GenerateRefreshToken creates a signed JWT refresh token carrying the payload
func GenerateRefreshToken(cfg *config.Config, c *Claims) (string, error) {
	return sign(c, cfg.JWT.RefreshSecret, cfg.JWT.RefreshTokenTTL)
}

func sign(c *Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ID:      c.ID,
		Role:    c.Role,
		IsAdmin: c.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps every issued token distinct even within the same second
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(secret))
}

// ParseAccessToken verifies an access token against the access secret.
func ParseAccessToken(cfg *config.Config, raw string) (*Claims, error) {
	return parse(raw, cfg.JWT.Secret)
}

// ParseRefreshToken verifies a refresh token against the refresh secret.
// Expiry and signature failures are returned to the caller, never swallowed.
func ParseRefreshToken(cfg *config.Config, raw string) (*Claims, error) {
	return parse(raw, cfg.JWT.RefreshSecret)
}

func parse(raw, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// verifiedToken adapts Claims to the middleware.Token interface.
type verifiedToken struct {
	claims *Claims
}

func (t *verifiedToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// RevokedFunc reports whether an access token has been revoked (blacklisted).
type RevokedFunc func(ctx context.Context, token string) (bool, error)

// AccessVerifier implements middleware.Verifier for locally issued access
// tokens, with an optional revocation check consulted after signature
// verification.
type AccessVerifier struct {
	cfg     *config.Config
	revoked RevokedFunc
}

// NewAccessVerifier creates a verifier. revoked may be nil.
func NewAccessVerifier(cfg *config.Config, revoked RevokedFunc) *AccessVerifier {
	return &AccessVerifier{cfg: cfg, revoked: revoked}
}

func (v *AccessVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims, err := ParseAccessToken(v.cfg, raw)
	if err != nil {
		return nil, err
	}
	if v.revoked != nil {
		rev, err := v.revoked(ctx, raw)
		if err != nil {
			return nil, err
		}
		if rev {
			return nil, errors.New("token revoked")
		}
	}
	return &verifiedToken{claims: claims}, nil
}
