package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a caller credential to the account it speaks for.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (accountID string, err error)
}

// JWTAuthenticator accepts HS256 tokens whose subject is the account id.
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewJWTAuthenticator(secret, issuer, audience string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      time.Hour,
		now:      time.Now,
	}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (string, error) {
	raw := strings.TrimSpace(credential)
	if raw == "" || len(a.secret) == 0 {
		return "", ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || token == nil || !token.Valid {
		return "", ErrUnauthorized
	}

	accountID := strings.TrimSpace(claims.Subject)
	if accountID == "" {
		return "", ErrUnauthorized
	}
	return accountID, nil
}

// Issue signs a token for accountID. Used by tooling and tests.
func (a *JWTAuthenticator) Issue(accountID string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("jwt secret is empty")
	}
	if strings.TrimSpace(accountID) == "" {
		return "", fmt.Errorf("invalid token subject")
	}

	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
