package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims issued at login.
type Payload struct {
	// StandardClaims carries Subject (the user id), ExpiresAt, IssuedAt and Issuer.
	jwt.StandardClaims

	// Username is informational; authorization always reloads the user record.
	Username string `json:"username,omitempty"`
}

// UserID returns the subject claim.
func (p *Payload) UserID() string {
	return p.Subject
}
