package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserKey contextKey = "user"

	// UsernameKey is the echo context key holding the authenticated username.
	UsernameKey = "username"
)

// BearerAuth returns middleware that authenticates the Authorization header
// with tokens and stores the resolved user on the request context. Failures
// are returned as errors wrapping ErrMissingToken or a TokenService error so
// the central error handler can render them.
func BearerAuth(tokens *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}

			user, err := tokens.Authenticate(c.Request().Context(), tokenStr)
			if err != nil {
				return err
			}

			c.Set(UsernameKey, user.Username)
			ctx := context.WithValue(c.Request().Context(), UserKey, user)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w: invalid authorization format", ErrTokenMalformed)
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// UserFromContext returns the user stored by BearerAuth.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(UserKey).(*User)
	return u, ok && u != nil
}

// UsernameFromContext returns the authenticated username, or "" when the
// request was not authenticated.
func UsernameFromContext(ctx context.Context) string {
	if u, ok := UserFromContext(ctx); ok {
		return u.Username
	}
	return ""
}
