package middleware

import (
	"clinicmsg/backend/internal/auth"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by RequireUser.
const (
	UserIDKey   = "userId"
	IdentityKey = "identity"
)

// ErrMalformedAuthorization is an Authorization header that is not a bearer credential.
var ErrMalformedAuthorization = fmt.Errorf("%w: malformed authorization header", auth.ErrInvalidToken)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>". Browsers
// cannot set headers on a websocket handshake, so a "token" query parameter is
// accepted as well. A header in any other shape is ErrMalformedAuthorization;
// an absent credential is "" with no error.
func BearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1], nil
		}
		return "", ErrMalformedAuthorization
	}
	return r.URL.Query().Get("token"), nil
}

// RequireUser authenticates REST requests.
func RequireUser(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var identity *auth.Identity
		token, err := BearerToken(c.Request)
		if err == nil {
			identity, err = a.Authenticate(c.Request.Context(), token)
		}
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			case errors.Is(err, auth.ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			case errors.Is(err, auth.ErrUserNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication unavailable"})
			}
			return
		}

		c.Set(UserIDKey, identity.UserID())
		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireUser.
func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*auth.Identity)
	return identity, ok
}
