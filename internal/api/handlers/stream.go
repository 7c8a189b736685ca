package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/market"
)

// SettlementHub streams ClearingMessages to websocket subscribers. It plugs
// into the participant adapter as an observer; a client may pass ?origin= to
// see only its own accepted orders.
type SettlementHub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn   *websocket.Conn
	origin string
	send   chan market.ClearingMessage
}

func NewSettlementHub(log *zap.Logger) *SettlementHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementHub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// HandleClearing implements participant.Receiver: fan a settlement out to
// every connected client. Slow clients are dropped rather than allowed to
// stall the round.
func (h *SettlementHub) HandleClearing(msg market.ClearingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		out := msg
		if c.origin != "" {
			var own []market.Order
			for _, o := range msg.Orders {
				if o.Origin == c.origin {
					own = append(own, o)
				}
			}
			out.Orders = own
		}
		select {
		case c.send <- out:
		default:
			h.log.Warn("dropping slow settlement subscriber")
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Serve handles GET /ws/settlements
func (h *SettlementHub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &streamClient{
		conn:   conn,
		origin: c.Query("origin"),
		send:   make(chan market.ClearingMessage, 16),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *SettlementHub) writeLoop(c *streamClient) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop drains the connection to notice the close handshake.
func (h *SettlementHub) readLoop(c *streamClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.conn.Close()
}
