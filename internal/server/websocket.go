package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gerkai/soaperNote/internal/pipeline"
)

// Slow clients get wsWriteWait per frame and are dropped after wsPongWait of
// silence. Up to wsBuffer snapshots queue per client before updates are dropped.
const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 16
)

// LiveMessage is pushed to WebSocket clients on every read model change
type LiveMessage struct {
	Type   string            `json:"type"`
	Status pipeline.Snapshot `json:"status"`
}

// checkOrigin accepts same-origin, loopback and private network clients
func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		h.logger.Warn("Rejected WebSocket connection: invalid origin", slog.String("origin", origin))
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if name, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = name
	}
	if host == requestHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	h.logger.Warn("Rejected WebSocket connection", slog.String("origin", origin), slog.String("host", host))
	return false
}

// handleWebSocket streams read model snapshots to the client until it
// disconnects or the pipeline closes.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		h.metrics.RecordHTTPError(r.Method, "/ws", "client_error")
		return
	}

	h.metrics.SetLiveClients(int(h.liveClients.Add(1)))
	h.logger.Debug("Live client connected", slog.String("remote_addr", r.RemoteAddr))

	updates, cancel := h.pipeline.Subscribe(wsBuffer)
	done := make(chan struct{})

	go h.readLiveClient(conn, done)

	h.writeLiveClient(conn, updates, done)

	cancel()
	conn.Close()
	h.metrics.SetLiveClients(int(h.liveClients.Add(-1)))
	h.logger.Debug("Live client disconnected", slog.String("remote_addr", r.RemoteAddr))
}

// readLiveClient discards client frames and closes done when the peer goes away
func (h *HTTPServer) readLiveClient(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLiveClient is the sole writer to conn
func (h *HTTPServer) writeLiveClient(conn *websocket.Conn, updates <-chan pipeline.Snapshot, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return

		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(LiveMessage{Type: "status", Status: snap}); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
