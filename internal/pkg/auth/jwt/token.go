package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"agora/internal/app/user"
)

const (
	// DefaultTokenTTL is the lifetime of tokens minted by GenerateToken when none is given.
	DefaultTokenTTL = 24 * time.Hour

	// TokenIssuer identifies tokens minted by this service.
	TokenIssuer = "Agora-Gateway"
)

var (
	// ErrMissingToken is returned for an empty credential.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier validates signed gateway tokens. It holds no mutable state.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier for HS256 tokens signed with secret.
// When issuer is non-empty, tokens must carry it in the iss claim.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses token and returns the identity it carries. It fails with an
// error wrapping ErrInvalidToken when the token is empty, malformed, expired,
// not yet valid, signed with another method or key, issued by someone else,
// or has no user id.
func (v *Verifier) Verify(token string) (user.Identity, error) {
	payload, err := ParseToken(token, v.secret)
	if err != nil {
		return user.Identity{}, err
	}

	if v.issuer != "" && !payload.VerifyIssuer(v.issuer, true) {
		return user.Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, payload.Issuer)
	}

	return payload.Identity(), nil
}

// GenerateToken signs a token for identity with the given TTL (DefaultTokenTTL when zero).
func GenerateToken(identity user.Identity, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()

	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(ttl).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
		ID:       identity.ID,
		Nickname: identity.Nickname,
		Roles:    identity.Roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secret))
}

// ParseToken parses and validates the token string using secretKey.
func ParseToken(tokenString string, secretKey []byte) (*Payload, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingToken)
	}

	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	// StandardClaims.Valid treats a missing exp as "never expires"; gateway tokens must expire.
	if claims.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: token has no expiry", ErrInvalidToken)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: token has no user id", ErrInvalidToken)
	}

	return claims, nil
}
