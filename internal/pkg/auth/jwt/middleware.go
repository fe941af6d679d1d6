package jwt

import (
	"net/http"
	"strings"
)

// QueryTokenKey is the query parameter carrying the token on WebSocket upgrades,
// where browsers cannot set an Authorization header.
const QueryTokenKey = "token"

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the token query parameter. It returns "" when none is present.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	return r.URL.Query().Get(QueryTokenKey)
}
