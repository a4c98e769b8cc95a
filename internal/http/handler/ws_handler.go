package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 由网关负责来源校验
	CheckOrigin: func(*http.Request) bool { return true },
}

type WSHandler struct {
	hub *realtime.Hub
	log *zap.Logger
}

func NewWSHandler(hub *realtime.Hub, log *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// GET /ws?account_id=
func (h *WSHandler) Connect(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(c.Request.Context(), conn, accountID)
}
