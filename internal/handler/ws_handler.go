package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campushub/approval-api/internal/ws"
	appErrors "github.com/campushub/approval-api/pkg/errors"
	"github.com/campushub/approval-api/pkg/response"
)

// WSHandler upgrades authenticated clients to the notification stream.
type WSHandler struct {
	hub *ws.Hub
}

// NewWSHandler creates a new handler.
func NewWSHandler(hub *ws.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Subscribe godoc
// @Summary Subscribe to request change notifications
// @Description Upgrade to a websocket stream of request change events scoped to the caller's role
// @Tags Notifications
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} response.Envelope
// @Router /ws [get]
func (h *WSHandler) Subscribe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	ws.ServeWs(h.hub, c, claims.Identity())
}
