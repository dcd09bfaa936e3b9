package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/shared/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

// Handler accepts page-client connections and pumps their control messages
// through the dispatcher.
type Handler struct {
	hub        *Hub
	dispatcher *Dispatcher
	logger     *logging.Logger
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(hub *Hub, dispatcher *Dispatcher, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{hub: hub, dispatcher: dispatcher, logger: logger}
}

// HandleConnection upgrades the request and serves the client until its
// connection drops. Disconnect purges every watcher the client owned.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: uuid.New().String(), conn: conn}
	h.hub.add(client)
	log := h.logger.With(zap.String("client_id", client.ID))
	log.Info("client connected")

	defer func() {
		conn.Close()
		h.hub.remove(client.ID)
		h.dispatcher.ClientGone(client.ID)
		log.Info("client disconnected")
	}()

	for {
		var req types.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("client read error", zap.Error(err))
			}
			return
		}
		resp := h.dispatcher.Handle(c.Request.Context(), client.ID, req)
		if !h.hub.Send(client.ID, resp) {
			return
		}
	}
}
