package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"appmanager/internal/logger"
	"appmanager/internal/reconciler"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// CLI tools send no origin
		if origin == "" {
			return true
		}

		allowedOrigins := []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
			"http://[::1]",
			"https://[::1]",
		}
		for _, allowed := range allowedOrigins {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}

		logger.WithFields(logger.Fields{
			"origin": origin,
			"remote": r.RemoteAddr,
		}).Warn("WebSocket connection rejected - invalid origin")
		return false
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ClientMessage represents messages from client to server
type ClientMessage struct {
	Type string `json:"type"` // 'ping'
}

// ServerMessage wraps reconciler events sent to the client
type ServerMessage struct {
	Type  string            `json:"type"` // 'event', 'status', 'pong'
	Event *reconciler.Event `json:"event,omitempty"`
	State *StatusResponse   `json:"status,omitempty"`
}

// eventSession streams reconciler events to one websocket client
type eventSession struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	pongs  chan struct{}
}

// handleEvents godoc
// @Summary Reconciliation event stream
// @Description WebSocket stream of run and status events. The current status is sent first.
// @Tags reconciliation
// @Success 101 {string} string "Switching Protocols"
// @Router /v2/reconciliation/events [get]
func (s *Server) handleEvents(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.GetLogger(c).WithError(err).Warn("Failed to upgrade WebSocket connection")
		return nil
	}
	defer ws.Close()

	events, unsubscribe := s.deps.Reconciler.Events().Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request().Context())
	session := &eventSession{ws: ws, ctx: ctx, cancel: cancel, pongs: make(chan struct{}, 1)}
	defer cancel()

	logger.GetLogger(c).Debug("Event stream opened")

	status := s.deps.Reconciler.Status()
	if err := session.write(ServerMessage{Type: "status", State: &status}); err != nil {
		return nil
	}

	go session.readLoop()
	session.writeLoop(events)

	logger.GetLogger(c).Debug("Event stream closed")
	return nil
}

func (es *eventSession) write(msg ServerMessage) error {
	_ = es.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return es.ws.WriteJSON(msg)
}

// writeLoop is the only writer on the connection
func (es *eventSession) writeLoop(events <-chan reconciler.Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-es.ctx.Done():
			_ = es.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := es.write(ServerMessage{Type: "event", Event: &ev}); err != nil {
				es.cancel()
				return
			}
		case <-es.pongs:
			if err := es.write(ServerMessage{Type: "pong"}); err != nil {
				es.cancel()
				return
			}
		case <-ticker.C:
			_ = es.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := es.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				es.cancel()
				return
			}
		}
	}
}

// readLoop watches for the client going away. Client pings are handed
// to writeLoop to answer.
func (es *eventSession) readLoop() {
	defer es.cancel()

	_ = es.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	es.ws.SetPongHandler(func(string) error {
		return es.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg ClientMessage
		if err := es.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		_ = es.ws.SetReadDeadline(time.Now().Add(wsPongWait))
		if msg.Type != "ping" {
			logger.WithField("type", msg.Type).Debug("Ignoring client message")
			continue
		}
		select {
		case es.pongs <- struct{}{}:
		default:
		}
	}
}
