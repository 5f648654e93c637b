package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails signature or claim checks
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token is past its exp claim
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingSubject is returned when the token carries no sub claim
	ErrMissingSubject = errors.New("token has no subject")

	// ErrNoSecret is returned when issuing without a signing secret
	ErrNoSecret = errors.New("no signing secret configured")
)

// Claims are the claims carried by a management token
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Validator checks HS256 management tokens
type Validator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewValidator creates a validator for tokens signed with secret.
// An empty issuer disables the iss check.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// ValidateToken parses and verifies a token
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}

// IssueToken signs a token for subject valid for ttl
func (v *Validator) IssueToken(subject, scope string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
