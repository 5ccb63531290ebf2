package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/ws"
)

// WSHandler поднимает WebSocket для push-событий escrow.
// Пользователь уже определён middleware по ?token=.
type WSHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(hub *ws.Hub, allowedOrigins []string, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Не браузер: Origin не передаётся.
				if origin == "" {
					return true
				}
				return slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Handle обслуживает GET /api/ws?token=...
func (h *WSHandler) Handle(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrader уже ответил клиенту.
		h.log.WithError(err).WithField("user_id", actor.ID()).Warn("Не удалось открыть WebSocket")
		return
	}

	client := ws.NewClient(conn, h.hub, actor.ID())
	client.Run(c.Request.Context())
}
