// =============================================================================
// SWARMGRID - WATCH
// =============================================================================
// This standalone terminal client tails a running arena:
// - Connects to the arena WebSocket endpoint
// - Reads the JSON hello, then binary msgpack state frames
// - Prints a one-line summary at a fixed cadence
// - Optionally spawns a batch of agents on connect
//
// USAGE:
//   1. Start the arena first: go run ./cmd/arena
//   2. Then start this watcher: go run ./cmd/watch
// =============================================================================
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"swarmgrid/internal/api"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/vmihailenco/msgpack/v5"
)

func main() {
	// Load environment
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}

	log.Println("================================")
	log.Println("  SWARMGRID - WATCH")
	log.Println("  Terminal frame tail")
	log.Println("================================")

	arenaURL := getEnvWithDefault("ARENA_URL", "ws://localhost:8080/ws")
	spawnOnConnect := getEnvInt("WATCH_SPAWN", 0)
	reportSeconds := getEnvInt("REPORT_SECONDS", 1)
	if reportSeconds <= 0 {
		reportSeconds = 1
	}

	log.Printf("Arena: %s", arenaURL)
	if spawnOnConnect > 0 {
		log.Printf("Spawning %d agents on connect", spawnOnConnect)
	}

	var (
		mu      sync.Mutex
		last    api.StateFrame
		frames  uint64 // atomic
		rxBytes uint64 // atomic
	)

	// Stats logging goroutine
	go func() {
		ticker := time.NewTicker(time.Duration(reportSeconds) * time.Second)
		defer ticker.Stop()

		var prevFrames, prevBytes uint64
		for range ticker.C {
			f := atomic.LoadUint64(&frames)
			b := atomic.LoadUint64(&rxBytes)
			if f == prevFrames {
				continue // no traffic since last line
			}
			mu.Lock()
			frame := last
			mu.Unlock()

			log.Printf("tick=%d entities=%d applied=%d migrations=%d tick_ms=%.2f fps=%d rx_kbps=%.0f",
				frame.Tick, frame.Count, frame.Applied, frame.Migrations,
				float64(frame.TickNs)/1e6,
				(f-prevFrames)/uint64(reportSeconds),
				float64(b-prevBytes)*8/1024/float64(reportSeconds))
			prevFrames, prevBytes = f, b
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		<-quit
		close(stop)
	}()

	// Connect loop with backoff; the arena may not be up yet
	backoff := time.Second
	for {
		select {
		case <-stop:
			log.Println("Watcher stopped!")
			return
		default:
		}

		conn, resp, err := websocket.DefaultDialer.Dial(arenaURL, nil)
		if err != nil {
			if resp != nil {
				log.Printf("Connect failed: %v (HTTP %d), retrying in %v", err, resp.StatusCode, backoff)
			} else {
				log.Printf("Connect failed: %v, retrying in %v", err, backoff)
			}
			select {
			case <-stop:
				log.Println("Watcher stopped!")
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second

		tail(conn, stop, spawnOnConnect, &mu, &last, &frames, &rxBytes)
		conn.Close()
	}
}

// tail reads one connection until it drops or the watcher stops.
func tail(conn *websocket.Conn, stop chan struct{}, spawnOnConnect int,
	mu *sync.Mutex, last *api.StateFrame, frames, rxBytes *uint64) {

	// Unblock ReadMessage on shutdown by closing the socket
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-stop:
			conn.Close()
		case <-connDone:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				log.Printf("Connection lost: %v", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var env struct {
				T string          `json:"t"`
				D json.RawMessage `json:"d"`
			}
			if err := json.Unmarshal(data, &env); err != nil || env.T != "hello" {
				continue
			}
			var hello struct {
				Tick     uint64 `json:"tick"`
				Entities int    `json:"entities"`
				Interval int64  `json:"intervalMs"`
			}
			if err := json.Unmarshal(env.D, &hello); err != nil {
				continue
			}
			log.Printf("Connected: tick=%d entities=%d frame interval=%dms",
				hello.Tick, hello.Entities, hello.Interval)

			if spawnOnConnect > 0 {
				cmd := api.Envelope{T: "spawn", Data: map[string]interface{}{
					"count": spawnOnConnect,
				}}
				if err := conn.WriteJSON(cmd); err != nil {
					log.Printf("Spawn command failed: %v", err)
				}
			}

		case websocket.BinaryMessage:
			var frame api.StateFrame
			if err := msgpack.Unmarshal(data, &frame); err != nil {
				log.Printf("Bad frame: %v", err)
				continue
			}
			atomic.AddUint64(frames, 1)
			atomic.AddUint64(rxBytes, uint64(len(data)))
			mu.Lock()
			*last = frame
			mu.Unlock()
		}
	}
}

func getEnvWithDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
