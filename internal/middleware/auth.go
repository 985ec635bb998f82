package middleware

import (
	"time"

	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const (
	currentSessionKey = "currentSession"
	currentUserKey    = "currentUser"

	// SessionCookieName carries the raw bearer token. Only its SHA-256 is
	// ever stored server side.
	SessionCookieName = "session"
)

type AuthMiddleware struct {
	Auth          *auth.Service
	SecureCookies bool
}

func NewAuthMiddleware(authService *auth.Service, secureCookies bool) *AuthMiddleware {
	return &AuthMiddleware{Auth: authService, SecureCookies: secureCookies}
}

func CORS(frontendOrigin string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     frontendOrigin,
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// LoadSession resolves the session cookie if present and stashes the session
// and user in request locals. It never rejects: handlers that need a session
// check for nil themselves. A successful lookup re-sets the cookie so the
// browser expiry tracks the sliding server-side expiry.
func (a *AuthMiddleware) LoadSession(c *fiber.Ctx) error {
	token := c.Cookies(SessionCookieName)
	if token == "" {
		return c.Next()
	}

	session, user, err := a.Auth.ValidateSessionToken(token)
	if err != nil {
		logger.Error("session_lookup_failed", err, map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return c.Next()
	}
	if session == nil {
		c.Cookie(&fiber.Cookie{
			Name:     SessionCookieName,
			Value:    "",
			Expires:  time.Unix(0, 0),
			HTTPOnly: true,
			Secure:   a.SecureCookies,
			SameSite: fiber.CookieSameSiteLaxMode,
			Path:     "/",
		})
		return c.Next()
	}

	c.Cookie(&fiber.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   a.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})

	c.Locals(currentSessionKey, session)
	c.Locals(currentUserKey, user)
	return c.Next()
}

// RequireAuth rejects requests that LoadSession left unauthenticated.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	if GetCurrentSession(c) == nil {
		logger.Warn("session_missing", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   auth.MsgNotAuthenticated,
		})
	}
	return c.Next()
}

func GetCurrentSession(c *fiber.Ctx) *auth.Session {
	value := c.Locals(currentSessionKey)
	if value == nil {
		return nil
	}
	session, ok := value.(*auth.Session)
	if !ok {
		return nil
	}
	return session
}

func GetCurrentUser(c *fiber.Ctx) *auth.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*auth.User)
	if !ok {
		return nil
	}
	return user
}
