package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AuthMiddleware provides JWT authentication middleware. Every API surface
// is org-scoped; the org id always comes from the verified token, never from
// the request body or path.
type AuthMiddleware struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(secret string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		logger: logger,
	}
}

// RequireAuth is middleware that validates JWT tokens and requires an org claim
func (m *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		m.logger.Warn("Missing Authorization header", zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing Authorization header",
		})
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		m.logger.Warn("Invalid Authorization header format", zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid Authorization header format",
		})
	}

	claims, err := m.validateToken(parts[1])
	if err != nil {
		m.logger.Warn("Token validation failed", zap.Error(err), zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	orgID := claimUint(claims, "org_id")
	if orgID == 0 {
		m.logger.Warn("Token carries no org claim", zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Token carries no org claim",
		})
	}

	c.Locals("orgID", orgID)
	if userID := claimUint(claims, "user_id"); userID != 0 {
		c.Locals("userID", userID)
	}

	return c.Next()
}

func (m *AuthMiddleware) validateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func claimUint(claims jwt.MapClaims, key string) uint {
	switch v := claims[key].(type) {
	case float64:
		if v > 0 {
			return uint(v)
		}
	case int:
		if v > 0 {
			return uint(v)
		}
	}
	return 0
}

// GetOrgID retrieves the authenticated org id from the request context
func GetOrgID(c *fiber.Ctx) (uint, bool) {
	orgID, ok := c.Locals("orgID").(uint)
	return orgID, ok && orgID != 0
}

// GetUserID retrieves the authenticated user id, if the token carried one
func GetUserID(c *fiber.Ctx) *uint {
	if userID, ok := c.Locals("userID").(uint); ok && userID != 0 {
		return &userID
	}
	return nil
}
