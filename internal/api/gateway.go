package api

import (
	"time"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/auth"
	"github.com/pulsechat/pulsechat-server/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time gateway (spec §6).
type GatewayHandler struct {
	router         *gateway.Router
	auth           *auth.Service
	idleTimeout    time.Duration
	sendBufferSize int
	log            zerolog.Logger
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(router *gateway.Router, authSvc *auth.Service, idleTimeout time.Duration, sendBufferSize int, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{router: router, auth: authSvc, idleTimeout: idleTimeout, sendBufferSize: sendBufferSize, log: logger}
}

// Upgrade handles GET /api/v1/gateway. The access token is validated from the `?token=` query parameter before the
// HTTP connection is upgraded: a missing or invalid token gets a plain HTTP 401, never an accepted-then-closed
// socket (spec §6).
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing token query parameter")
	}

	claims, err := h.auth.SessionCheck(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
	}
	userID := claims.UserID
	expiresAt := claims.ExpiresAt.Time

	return websocket.New(func(conn *websocket.Conn) {
		client := gateway.NewClient(conn, userID, h.sendBufferSize, expiresAt, h.log)
		teardown := h.router.Connect(c.Context(), client)
		go client.WritePump()
		client.ReadPump(h.router, h.idleTimeout, teardown)
	})(c)
}
