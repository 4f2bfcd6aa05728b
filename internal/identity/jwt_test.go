package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	auth := NewJWTAuthenticator("secret", "creditgate", "android")

	token, err := auth.Issue("acct-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got != "acct-a" {
		t.Fatalf("account: %q", got)
	}
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	auth := NewJWTAuthenticator("secret", "creditgate", "android")
	ctx := context.Background()

	otherKey, _ := NewJWTAuthenticator("other", "creditgate", "android").Issue("acct-a")
	otherIssuer, _ := NewJWTAuthenticator("secret", "someone-else", "android").Issue("acct-a")

	expiredAuth := NewJWTAuthenticator("secret", "creditgate", "android")
	expiredAuth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredAuth.Issue("acct-a")

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "creditgate",
		Audience:  jwt.ClaimStrings{"android"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  "acct-a",
		Issuer:   "creditgate",
		Audience: jwt.ClaimStrings{"android"},
	}).SignedString([]byte("secret"))

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "acct-a",
		Issuer:    "creditgate",
		Audience:  jwt.ClaimStrings{"android"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"expired":      expired,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"wrong alg":    hs512,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic abc":      "",
		"":               "",
		"Bearer":         "",
		"BEARER xyz.123": "xyz.123",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
