package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a bearer token that failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSecret indicates the verifier was built without a signing secret.
	ErrNoSecret = errors.New("jwt secret is not configured")
)

// Claims identifies a trusted caller, such as the cycle scheduler or the front-end.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Verifier issues and checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier builds a verifier for secret. issuer is optional.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Issue signs a token for subject valid for ttl.
func (v *Verifier) Issue(subject, scope string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse verifies tokenStr and returns its claims.
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
