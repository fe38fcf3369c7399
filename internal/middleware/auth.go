package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"

	"tokenrelay/internal/setup"
	"tokenrelay/internal/shared"
	"tokenrelay/internal/users"
)

type UserMiddleware struct {
	users *users.Manager
}

func NewUserMiddleware(um *users.Manager) *UserMiddleware {
	return &UserMiddleware{users: um}
}

// ExtractUser resolves the bearer API key if present. Missing or bad keys
// leave c.User nil; RequireUser decides whether that is fatal.
func (m *UserMiddleware) ExtractUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*setup.Context)
		apiKey, err := shared.ExtractAPIKey(c)
		if err != nil && !m.users.AllowAnonymous {
			return next(c)
		}

		user, err := m.users.GetUserFromKey(c.Request().Context(), apiKey)
		if err != nil {
			var rerr *shared.RequestError
			if errors.As(err, &rerr) && rerr.StatusCode >= 500 {
				c.Log.Errorw("user lookup failed", "error", err)
			}
			return next(c)
		}

		c.User = user
		c.Log = c.Log.With("user_id", user.UserID)
		return next(c)
	}
}

func (m *UserMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*setup.Context)
		if c.User == nil {
			return c.JSON(shared.ErrUnauthorized.StatusCode, shared.ErrorBody{
				Message: shared.ErrUnauthorized.Err.Error(),
				Object:  "error",
				Type:    "Unauthorized",
				Code:    shared.ErrUnauthorized.StatusCode,
			})
		}
		return next(c)
	}
}
