package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcache/config"
	controller "mailcache/controllers"
	"mailcache/utils"
)

func newApp() *fiber.App {
	app := fiber.New()
	cfg := config.Config{JWTSecret: "routes-secret", SendRateLimit: 5}
	SetupRoutes(app, controller.NewEmailController(nil, logrus.NewEntry(logrus.New())), cfg, nil)
	return app
}

func TestHealthIsPublic(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEmailRoutesRequireToken(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest(http.MethodGet, "/emails/all", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestMeReturnsPrincipal(t *testing.T) {
	token, err := utils.GenerateJWTToken("me@example.com", "routes-secret", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := newApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out struct {
		Status string `json:"status"`
		Data   struct {
			Email string `json:"email"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, "me@example.com", out.Data.Email)
}
