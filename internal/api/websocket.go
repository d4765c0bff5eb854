package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"swarmgrid/internal/fixed"
)

const (
	// MaxWSConnectionsTotal caps connected clients across all IPs.
	MaxWSConnectionsTotal = 200

	// MaxWSConnectionsPerIP caps connections per source IP.
	MaxWSConnectionsPerIP = 8

	// DefaultBroadcastInterval is the snapshot frame cadence.
	DefaultBroadcastInterval = 100 * time.Millisecond
)

// wsClient tracks a connection with its source IP for limiter bookkeeping.
type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// WebSocketHub fans snapshot frames out to every connected client. The
// protocol is split by message type: text frames are JSON control messages
// (client to server) and the one-time hello (server to client); binary
// frames are msgpack StateFrames.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	connLimiter *ConnLimiter
	upgrader    websocket.Upgrader
	origins     []string
	interval    time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub creates a hub. origins extends the localhost origins
// that are always accepted; nil is fine.
func NewWebSocketHub(origins []string) *WebSocketHub {
	h := &WebSocketHub{
		clients:     make(map[*websocket.Conn]*wsClient),
		broadcast:   make(chan []byte, 64),
		register:    make(chan *wsClient),
		unregister:  make(chan *websocket.Conn),
		connLimiter: NewConnLimiter(MaxWSConnectionsPerIP),
		origins:     origins,
		interval:    DefaultBroadcastInterval,
		stopChan:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.allowOrigin,
	}
	return h
}

// allowOrigin accepts non-browser clients (no Origin header), localhost,
// and anything on the configured list.
func (h *WebSocketHub) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1") {
		return true
	}
	for _, allowed := range h.origins {
		if origin == allowed {
			return true
		}
	}
	log.Printf("⚠️ WebSocket rejected origin: %s", origin)
	RecordConnectionRejected("origin")
	return false
}

// Run pumps the register/unregister/broadcast channels until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stopChan:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.drop(conn)

		case message := <-h.broadcast:
			h.mu.RLock()
			var dead []*websocket.Conn
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
					dead = append(dead, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range dead {
				h.drop(conn)
			}
			IncrementWSFrames()
		}
	}
}

// Stop halts Run and the broadcast loop.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// drop removes a connection, releasing its per-IP slot.
func (h *WebSocketHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if client, ok := h.clients[conn]; ok {
		h.connLimiter.Release(client.ip)
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("📱 Client disconnected (%d remaining)", count)
	UpdateWSConnections(count)
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastFrame queues one binary frame for every client. Frames are
// dropped, not queued unboundedly, when the hub cannot keep up.
func (h *WebSocketHub) BroadcastFrame(frame StateFrame) {
	data, err := msgpack.Marshal(&frame)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Channel full, skip (backpressure)
	}
}

// StartBroadcastLoop streams snapshots at the given cadence. Unchanged
// snapshots (paused world, no new tick) are not re-sent.
func (h *WebSocketHub) StartBroadcastLoop(world WorldInterface, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	h.interval = interval

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		var lastSeq uint64
		for {
			select {
			case <-h.stopChan:
				return
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}
				snap := world.Snapshot()
				if snap == nil || snap.Sequence == lastSeq {
					continue
				}
				lastSeq = snap.Sequence
				h.BroadcastFrame(BuildStateFrame(snap))
			}
		}
	}()
}

// HandleWebSocket upgrades a connection, sends the hello envelope, and
// starts the control reader. Connection limits apply before the upgrade.
func (h *WebSocketHub) HandleWebSocket(world WorldInterface, w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	h.mu.RLock()
	total := len(h.clients)
	h.mu.RUnlock()
	if total >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.connLimiter.Acquire(ip) {
		log.Printf("⚠️ WebSocket rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.connLimiter.Release(ip)
		return
	}

	// The hello goes out before registration so it cannot interleave with
	// a broadcast write on the same connection.
	snap := world.Snapshot()
	hello := Envelope{T: "hello", Data: helloData{
		Tick:     snap.Tick,
		Entities: snap.EntityCount,
		Interval: h.interval.Milliseconds(),
	}}
	if err := conn.WriteJSON(hello); err != nil {
		h.connLimiter.Release(ip)
		conn.Close()
		return
	}

	h.register <- &wsClient{conn: conn, ip: ip}

	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			msgType, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}
			h.handleControl(world, ip, message)
		}
	}()
}

// handleControl applies one JSON control envelope. Commands are fire and
// forget; results show up in the next frames.
func (h *WebSocketHub) handleControl(world WorldInterface, ip string, message []byte) {
	var env inEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}
	var req controlRequest
	if len(env.D) > 0 {
		if err := json.Unmarshal(env.D, &req); err != nil {
			return
		}
	}
	if req.Count <= 0 {
		req.Count = defaultBatch
	}
	if req.Count > maxBatch {
		req.Count = maxBatch
	}

	switch env.T {
	case "spawn":
		if req.Radius < 0 {
			return
		}
		world.EnqueueSpawn(req.Count, fixed.FromFloat(req.Radius), req.Mask)
	case "despawn":
		world.EnqueueDespawn(req.Count)
	case "pause":
		world.Pause()
	case "resume":
		world.Resume()
	default:
		log.Printf("📨 Unknown WebSocket message from %s: %q", ip, env.T)
	}
}
