package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server combines the HTTP router with the WebSocket hub.
type Server struct {
	world       WorldInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter

	// BroadcastInterval is the snapshot frame cadence over WebSocket.
	// Set before Start; zero means DefaultBroadcastInterval.
	BroadcastInterval time.Duration
}

// NewServer builds the production server. The hub and broadcast workers do
// not start until Start is called, so tests can construct a Server and
// drive Router() through httptest.
func NewServer(world WorldInterface, corsOrigins []string) *Server {
	s := &Server{
		world:       world,
		wsHub:       NewWebSocketHub(corsOrigins),
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
	}
	s.router = NewRouter(RouterConfig{
		World:       world,
		RateLimiter: s.rateLimiter,
		CORSOrigins: corsOrigins,
	})

	// The WebSocket route needs the hub instance, so it cannot live in the
	// pure NewRouter factory.
	s.router.Get("/ws", s.handleWS)
	return s
}

// Start launches the hub and broadcast workers, then serves HTTP on addr.
// Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.world, s.BroadcastInterval)

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("   - stats:   http://localhost%s/api/stats", addr)
	log.Printf("   - heatmap: http://localhost%s/api/heatmap.png", addr)
	log.Printf("   - ws:      ws://localhost%s/ws", addr)

	return http.ListenAndServe(addr, s.router)
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub, mainly for tests.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop shuts down the hub, the broadcast loop, and the rate limiter sweep.
func (s *Server) Stop() {
	s.wsHub.Stop()
	s.rateLimiter.Stop()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(s.world, w, r)
}
