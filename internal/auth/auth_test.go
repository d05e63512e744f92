package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := IssueAccessToken("u1", []string{"admin", "user"}, "secret")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := VerifyAccessToken(token, "secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Issuer != Issuer {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Fatalf("roles = %v", claims.Roles)
	}
}

func TestVerifyAccessTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueAccessToken("u1", nil, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyAccessToken(token, "other"); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func signTestToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestVerifyAccessTokenRejectsExpired(t *testing.T) {
	token := signTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}, "secret")
	if _, err := VerifyAccessToken(token, "secret"); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyAccessTokenRejectsForeignIssuer(t *testing.T) {
	token := signTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, "secret")
	if _, err := VerifyAccessToken(token, "secret"); err == nil {
		t.Fatal("expected error for foreign issuer")
	}
}

func TestResolveIdentity(t *testing.T) {
	token, err := IssueAccessToken("u1", []string{"user"}, "secret")
	if err != nil {
		t.Fatal(err)
	}

	if user := ResolveIdentity(token, "secret"); user == nil || user.ID != "u1" {
		t.Fatalf("bare token: %v", user)
	}
	if user := ResolveIdentity("Bearer "+token, "secret"); user == nil || user.ID != "u1" {
		t.Fatalf("bearer prefix: %v", user)
	}
	if user := ResolveIdentity("bearer "+token, "secret"); user == nil || user.ID != "u1" {
		t.Fatalf("lowercase bearer: %v", user)
	}
	if user := ResolveIdentity("", "secret"); user != nil {
		t.Fatalf("empty credential: %v", user)
	}
	if user := ResolveIdentity("garbage", "secret"); user != nil {
		t.Fatalf("garbage credential: %v", user)
	}
	if user := ResolveIdentity(token, "other"); user != nil {
		t.Fatalf("wrong secret: %v", user)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword("hunter2", hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Fatal("wrong password accepted")
	}
}
