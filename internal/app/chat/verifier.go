package chat

import (
	"github.com/Plannorium/curenium-sub005/internal/pkg/auth/jwt"
)

// JWTVerifier validates auth-frame tokens signed by the platform's identity
// service and resolves the identity they carry.
type JWTVerifier struct {
	secret string
}

// NewJWTVerifier builds a verifier for the given shared signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	payload, err := jwt.ParseToken(token, v.secret)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		ID:          payload.ID,
		DisplayName: payload.DisplayName,
		Avatar:      payload.Avatar,
	}, nil
}
