package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

func TestUpgradeRejectsNonWebSocket(t *testing.T) {
	t.Parallel()

	handler := NewGatewayHandler(nil, nil, 90*time.Second, 256, zerolog.Nop())

	app := fiber.New()
	app.Get("/api/v1/gateway", handler.Upgrade)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
	}
}

func TestUpgradeRejectsMissingToken(t *testing.T) {
	t.Parallel()

	handler := NewGatewayHandler(nil, nil, 90*time.Second, 256, zerolog.Nop())

	app := fiber.New()
	app.Get("/api/v1/gateway", handler.Upgrade)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}
