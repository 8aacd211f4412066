package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/realtime"
)

// WebSocketHandler upgrades HTTP connections into realtime.Hub
// subscribers (§4.5), following the teacher's HandleWebSocket/writePump
// split: one goroutine drains the subscriber's outbound queue, the read
// side only exists to detect the client going away.
type WebSocketHandler struct {
	hub *realtime.Hub
	log *logging.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWebSocketHandler builds a WebSocketHandler.
func NewWebSocketHandler(hub *realtime.Hub, log *logging.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		log:        log,
		writeWait:  10 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 54 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle godoc
// @Summary Subscribe to live position/event/device-status updates
// @Router /api/v1/ws [get]
func (h *WebSocketHandler) Handle(c *gin.Context) {
	topics := parseTopics(c.Query("topics"))
	deviceRefs := parseCSV(c.Query("device_ids"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "websocket upgrade failed", nil)
		return
	}

	subscriberID := UserRef(c) + ":" + uuid.New().String()
	sub := h.hub.Subscribe(subscriberID, topics, deviceRefs)

	go h.writePump(conn, sub)
	h.readPump(conn, subscriberID)
}

// writePump drains the subscriber's send queue onto the socket, closing
// the connection once the hub closes the channel (on Unsubscribe/Stop).
func (h *WebSocketHandler) writePump(conn *websocket.Conn, sub *realtime.Subscriber) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.Send():
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to notice the client disconnecting; this surface
// never accepts inbound client commands over the socket.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, subscriberID string) {
	defer h.hub.Unsubscribe(subscriberID)

	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseTopics(raw string) []realtime.Topic {
	if raw == "" {
		return []realtime.Topic{realtime.TopicPositions, realtime.TopicEvents, realtime.TopicDeviceStatus}
	}
	var topics []realtime.Topic
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, realtime.Topic(t))
		}
	}
	return topics
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
