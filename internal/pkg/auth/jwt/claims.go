package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims issued by the platform's identity service.
// The messaging server only consumes these tokens; it never issues them.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer), used for token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the platform-wide user identifier.
	ID string `json:"id"`

	// DisplayName is the user's display name as shown to other participants.
	DisplayName string `json:"displayName"`

	// Avatar is the user's avatar reference.
	Avatar string `json:"avatar,omitempty"`
}
