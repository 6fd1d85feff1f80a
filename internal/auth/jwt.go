package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Distinct verification failure causes. The HTTP boundary collapses all
// of them into one generic 401 so a caller cannot probe which check
// failed.
var (
	ErrExpiredCredential   = errors.New("credential expired")
	ErrMalformedCredential = errors.New("credential malformed")
	ErrUnknownSubject      = errors.New("unknown or inactive subject")
)

// Claims is the decoded payload of an access token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SubjectID returns the numeric user id the token was issued for.
func (c *Claims) SubjectID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrMalformedCredential
	}
	return id, nil
}

// Verifier issues and verifies HS256 access tokens. Tokens are stateless:
// validity is purely a function of signature and expiry, and every
// successful authenticated exchange reissues a fresh one.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for the user with a fresh expiry window.
// The jti claim makes consecutive tokens distinct even within one clock
// second.
func (v *Verifier) Issue(u *User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify decodes and validates a token, returning its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrMalformedCredential
	}
	return claims, nil
}
