package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomchat/internal/room"
	"roomchat/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Names are unauthenticated and advisory; origins are too.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Rooms resolves a room name to its authority.
type Rooms interface {
	Get(name string) *room.Room
}

// Options tunes per-connection transport behavior.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Handler upgrades HTTP requests and runs the per-connection read
// loop, bridging the socket to its room authority.
type Handler struct {
	rooms Rooms
	opts  Options
	log   zerolog.Logger
}

// NewHandler creates a websocket handler over a room resolver.
func NewHandler(rooms Rooms, opts Options, log zerolog.Logger) *Handler {
	return &Handler{rooms: rooms, opts: opts, log: log}
}

// ServeRoom upgrades the request and attaches the connection to the
// named room. The room name has already been resolved by the HTTP
// glue.
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request, roomName string) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.opts.BufferSize, h.opts.WriteTimeout)
	identity := originIdentity(r)
	resume := r.URL.Query().Get("session")

	rm := h.rooms.Get(roomName)
	if _, err := rm.Attach(r.Context(), conn, identity, resume); err != nil {
		// Unrecoverable setup failure: final error frame, then a
		// server-fault closure.
		h.log.Error().Err(err).Str("room", roomName).Msg("session setup failed")
		_ = conn.Send(protocol.ErrorNotice("Session setup failed.").Encode())
		_ = conn.CloseWithCode(room.CloseInternalError, "session setup failed")
		return
	}

	go h.readLoop(conn, ws, rm)
}

// readLoop pumps inbound frames into the room until the connection
// dies, then detaches the session. Liveness is tracked with a read
// deadline refreshed by pongs and a ping ticker.
func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn, rm *room.Room) {
	clean := false
	defer func() {
		rm.Detach(context.Background(), conn, clean)
		_ = conn.Close()
	}()

	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				clean = true
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("room", rm.Name()).Msg("websocket read error")
			}
			return
		}

		if messageType == websocket.TextMessage {
			rm.HandleFrame(context.Background(), conn, data)
		}
	}
}

// originIdentity derives the client identity the rate limiter is keyed
// by: the first forwarded address when present, else the peer address.
func originIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if fwd = strings.TrimSpace(fwd); fwd != "" {
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
