package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Private room identifiers are 64 lowercase hex characters; any other
// name up to 32 characters maps deterministically to a public room.
var privateIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

const maxPublicNameLength = 32

// RoomServer hands an upgrade request to the room authority resolved
// from a name.
type RoomServer interface {
	ServeRoom(w http.ResponseWriter, r *http.Request, roomName string)
}

// StatsProvider reports registry counters for the health endpoint.
type StatsProvider interface {
	Stats() map[string]int
}

// HealthChecker validates the durable store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP routing glue: it mints private room identifiers,
// maps room names to authorities, and serves health. It holds no room
// state of its own.
type Server struct {
	roomServer RoomServer
	stats      StatsProvider
	health     HealthChecker
	router     *http.ServeMux
	throttle   *throttle
	log        zerolog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(roomServer RoomServer, stats StatsProvider, health HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		roomServer: roomServer,
		stats:      stats,
		health:     health,
		router:     http.NewServeMux(),
		throttle:   newThrottle(5, 20),
		log:        log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/room", s.corsMiddleware(http.HandlerFunc(s.handleRoomCollection)))
	s.router.Handle("/api/room/", s.corsMiddleware(http.HandlerFunc(s.handleRoom)))
	s.router.Handle("/health", s.corsMiddleware(http.HandlerFunc(s.healthCheck)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleRoomCollection mints a fresh private room identifier.
func (s *Server) handleRoomCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.throttle.allow(requestOrigin(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		id := make([]byte, 32)
		if _, err := rand.Read(id); err != nil {
			s.log.Error().Err(err).Msg("failed to mint room id")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(hex.EncodeToString(id)))
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoom resolves /api/room/{name}/websocket to a room authority.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/room/")
	parts := strings.SplitN(rest, "/", 2)

	name := parts[0]
	if name == "" {
		http.Error(w, "room name required", http.StatusNotFound)
		return
	}

	switch {
	case privateIDPattern.MatchString(name):
		// Existing private room identifier.
	case len(name) <= maxPublicNameLength:
		// Deterministic public room.
	default:
		http.Error(w, "name too long", http.StatusNotFound)
		return
	}

	if len(parts) < 2 || parts[1] != "websocket" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if !s.throttle.allow(requestOrigin(r)) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	s.roomServer.ServeRoom(w, r, name)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	code := http.StatusOK
	if err := s.health.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"registry":  s.stats.Stats(),
		"timestamp": time.Now().UTC(),
	})
}

// CleanupThrottle drops idle origin buckets; called by the janitor.
func (s *Server) CleanupThrottle(maxIdle time.Duration) {
	s.throttle.cleanup(maxIdle)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func requestOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
