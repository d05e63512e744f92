package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"pulse-backend/internal/content"
)

// Access tokens are short-lived HS256 JWTs carrying the subject's roles.
// Refresh tokens are opaque UUIDs stored server-side and rotated on use.

const (
	// Issuer identifies tokens minted by this service. Verification rejects
	// tokens from anything else, even when signed with the same secret.
	Issuer = "pulse-backend"

	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

var errBadClaims = errors.New("invalid token claims")

// IssueAccessToken mints a signed access token for the subject.
func IssueAccessToken(subject string, roles []string, secret string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
		Roles: roles,
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, expiry and issuer, returning the claims.
func VerifyAccessToken(token, secret string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errBadClaims
	}
	return claims, nil
}

// ResolveIdentity turns a bearer credential into a caller identity. It never
// fails: anything that does not verify yields nil, which callers treat as
// anonymous. Accepts a bare token or a full "Bearer <token>" header value.
func ResolveIdentity(credential, secret string) *content.Identity {
	token := strings.TrimSpace(credential)
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return nil
	}
	claims, err := VerifyAccessToken(token, secret)
	if err != nil {
		return nil
	}
	return &content.Identity{ID: claims.Subject, Roles: claims.Roles}
}

// NewRefreshToken mints an opaque refresh token.
func NewRefreshToken() string {
	return uuid.New().String()
}

// HashPassword derives a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
