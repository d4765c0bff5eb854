package api

import (
	"encoding/json"

	"swarmgrid/internal/sim"
)

// Envelope is the text-side JSON message. The server sends one as a hello
// on connect and accepts them as control commands from clients.
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// inEnvelope defers payload decoding until the type is known.
type inEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// controlRequest is the payload for spawn/despawn control messages.
type controlRequest struct {
	Count  int     `json:"count"`
	Radius float64 `json:"radius"`
	Mask   uint32  `json:"mask"`
}

// helloData is the payload of the hello envelope sent on connect.
type helloData struct {
	Tick     uint64 `json:"tick"`
	Entities int    `json:"entities"`
	Interval int64  `json:"intervalMs"`
}

// StateFrame is the binary snapshot frame broadcast to WebSocket clients,
// msgpack-encoded. cmd/watch decodes the same type.
type StateFrame struct {
	Seq        uint64       `msgpack:"seq"`
	Tick       uint64       `msgpack:"tick"`
	Count      int          `msgpack:"count"`
	Applied    int          `msgpack:"applied"`
	Migrations int          `msgpack:"migrations"`
	TickNs     int64        `msgpack:"tickNs"`
	Entities   []WireEntity `msgpack:"entities"`
}

// WireEntity is one agent in a StateFrame. float32 halves the frame size
// and the viewer does not need more precision than that.
type WireEntity struct {
	ID   uint32  `msgpack:"id"`
	X    float32 `msgpack:"x"`
	Y    float32 `msgpack:"y"`
	R    float32 `msgpack:"r"`
	Mask uint32  `msgpack:"m"`
}

// BuildStateFrame converts a published snapshot into its wire form.
func BuildStateFrame(snap *sim.Snapshot) StateFrame {
	frame := StateFrame{
		Seq:        snap.Sequence,
		Tick:       snap.Tick,
		Count:      snap.EntityCount,
		Applied:    snap.Applied,
		Migrations: snap.Migrations,
		TickNs:     snap.TickDuration.Nanoseconds(),
		Entities:   make([]WireEntity, len(snap.Entities)),
	}
	for i, e := range snap.Entities {
		frame.Entities[i] = WireEntity{
			ID:   e.ID,
			X:    float32(e.X),
			Y:    float32(e.Y),
			R:    float32(e.Radius),
			Mask: e.Mask,
		}
	}
	return frame
}
