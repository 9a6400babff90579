package middleware

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// RequireServiceAuth validates the bearer token the product backend sends
// with every gateway call. When GATEWAY_JWT_SECRET is unset (local
// development) the check is skipped.
func RequireServiceAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := os.Getenv("GATEWAY_JWT_SECRET")
		if secret == "" {
			return c.Next()
		}

		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Status(401).JSON(fiber.Map{
				"success": false,
				"error":   "Missing bearer token",
			})
		}

		if _, err := parseToken(strings.TrimPrefix(header, "Bearer "), secret); err != nil {
			return c.Status(401).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid token",
			})
		}

		return c.Next()
	}
}

// VerifyRoomToken checks that a socket join token grants access to the
// requested user's room. Room membership is how WhatsApp events reach the
// frontend, so the token's subject must match the room being joined.
func VerifyRoomToken(token, userID string) error {
	secret := os.Getenv("GATEWAY_JWT_SECRET")
	if secret == "" {
		return nil
	}
	if token == "" {
		return fmt.Errorf("join requires a token")
	}

	claims, err := parseToken(token, secret)
	if err != nil {
		return fmt.Errorf("invalid join token")
	}

	sub, _ := claims["sub"].(string)
	uid, _ := claims["userId"].(string)
	if sub != userID && uid != userID {
		return fmt.Errorf("token does not grant access to room %s", userID)
	}
	return nil
}

func parseToken(tokenText, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenText, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
