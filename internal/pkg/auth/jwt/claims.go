package jwt

import (
	"github.com/golang-jwt/jwt"

	"agora/internal/app/user"
)

// Payload defines the claims of an Agora gateway token.
type Payload struct {
	// StandardClaims carries exp, iat, nbf and iss; exp and nbf are enforced on verification.
	jwt.StandardClaims

	// ID is the platform user id.
	ID string `json:"id"`

	Nickname string `json:"nickname"`

	Roles []string `json:"roles,omitempty"`
}

// Identity projects the claims onto the gateway's user identity.
func (p *Payload) Identity() user.Identity {
	nickname := p.Nickname
	if nickname == "" {
		nickname = p.ID
	}

	roles := make([]string, len(p.Roles))
	copy(roles, p.Roles)

	return user.Identity{
		ID:       p.ID,
		Nickname: nickname,
		Roles:    roles,
	}
}
