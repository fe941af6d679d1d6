/*
Package jwt issues and verifies the HS256 bearer tokens used by the HTTP API and the
live channel.
*/
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// FieldClientExpiration is the token lifetime for ambulance clients, which stay
	// signed in on a dedicated device.
	FieldClientExpiration = 10 * 24 * time.Hour

	// UserIdentityExpiration is the token lifetime for every other account.
	UserIdentityExpiration = 4 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "UltraMedic-Server"
)

var (
	// ErrMissingSubject is returned for tokens that carry no user id.
	ErrMissingSubject = errors.New("token has no subject")

	errUnexpectedSigningMethod = errors.New("unexpected signing method")
)

// GenerateToken signs a token for userID valid for duration.
// It returns the token string and its expiry.
func GenerateToken(userID, username, secretKey string, duration time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(duration)

	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ParseToken verifies the signature and expiry of tokenString.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}
