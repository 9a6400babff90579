package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newAuthApp() *fiber.App {
	app := fiber.New()
	app.Get("/protected", RequireServiceAuth(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})
	return app
}

func TestAuthSkippedWithoutSecret(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "")
	app := newAuthApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "topsecret")
	app := newAuthApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestAuthRejectsBadToken(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "topsecret")
	app := newAuthApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "backend"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "topsecret")
	app := newAuthApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "topsecret", "backend"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestVerifyRoomTokenMatchesSubject(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "topsecret")

	assert.NoError(t, VerifyRoomToken(signToken(t, "topsecret", "u1"), "u1"))
	assert.Error(t, VerifyRoomToken(signToken(t, "topsecret", "u1"), "u2"))
	assert.Error(t, VerifyRoomToken("", "u1"))
}

func TestVerifyRoomTokenOpenWithoutSecret(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "")
	assert.NoError(t, VerifyRoomToken("", "u1"))
}
