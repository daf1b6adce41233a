package middleware

// identity.go defines helper functions shared across middleware and
// handlers for reading the authenticated user injected by JWTAuth.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the numeric user id stored in context by JWTAuth, or
// nil for guest requests.  The subject claim may arrive as a string or
// as a JSON number depending on the issuer.
func UserID(c echo.Context) *uint64 {
	v := c.Get("user_id")
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return &n
		}
	case float64:
		if t >= 0 {
			n := uint64(t)
			return &n
		}
	}
	return nil
}
