package relay

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 << 10
)

// safeConn serializes writes; gorilla connections allow one concurrent
// writer.
type safeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func (sc *safeConn) write(messageType int, data []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.closed {
		return websocket.ErrCloseSent
	}
	_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.conn.WriteMessage(messageType, data)
}

func (sc *safeConn) close() error {
	sc.writeMu.Lock()
	sc.closed = true
	sc.writeMu.Unlock()
	return sc.conn.Close()
}

// Handler upgrades requests to websocket participants of a room.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler accepts connections from any origin in allowed; an empty list
// or "*" allows all.
func NewHandler(hub *Hub, allowed []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowed),
		},
		logger: logging.OrNop(logger),
	}
}

// Serve runs one participant until either side closes the connection.
// Incoming {text, sender, senderEmail, timestamp} messages are broadcast to
// the other participants of room.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("room", room), zap.Error(err))
		return
	}
	sc := &safeConn{conn: conn}
	id, events, unsubscribe := h.hub.Subscribe(room)
	log := h.logger.With(zap.String("room", room), zap.String("participant", id))
	log.Info("participant joined")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(sc, events, log)
	}()
	defer func() {
		unsubscribe()
		_ = sc.close()
		<-done
		log.Info("participant left")
	}()

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg models.RelayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		h.hub.Broadcast(room, id, msg)
	}
}

func (h *Handler) writeLoop(sc *safeConn, events <-chan []byte, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b, ok := <-events:
			if !ok {
				return
			}
			if err := sc.write(websocket.TextMessage, b); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := map[string]bool{}
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
