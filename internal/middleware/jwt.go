package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"errors"
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject claim into the request context.  The provided
// secret must match the one the identity service signs tokens with.  This
// middleware wraps routes that require an authenticated caller; handlers read
// the user via `c.Get("user_id")`.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			if err := setIdentity(c, strings.TrimPrefix(auth, "Bearer "), secret); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// OptionalJWTAuth is like JWTAuth but lets unauthenticated requests
// through as guests.  Bookings may be created without an account; a
// present but invalid token is still rejected so a stale session does
// not silently fall back to guest.
func OptionalJWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				return next(c)
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "malformed authorization header"})
			}
			if err := setIdentity(c, strings.TrimPrefix(auth, "Bearer "), secret); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// setIdentity parses and validates the raw token and stores the subject
// claim under "user_id".  Only HMAC-signed tokens are accepted.
func setIdentity(c echo.Context, raw, secret string) error {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return errors.New("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid claims")
	}
	c.Set("user_id", claims["sub"])
	return nil
}
