package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alpha-engine/internal/model"
)

// Hub keeps the latest computed result per indicator and fans results out
// to WebSocket clients. It satisfies model.ResultPublisher, so the service
// publishes to it exactly like it publishes to Redis.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	// Compute-to-broadcast latency
	Latency *LatencyTracker

	Broadcaster *Broadcaster

	// OnClientCount is called whenever a client connects or disconnects.
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// PublishResults broadcasts each result on its channel.
func (h *Hub) PublishResults(_ context.Context, results []model.IndicatorSeries) error {
	for i := range results {
		r := &results[i]
		h.Broadcaster.Broadcast(r.Name, r.PubSubChannel(), r.JSON(), r.TS)
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

// Register attaches an upgraded WebSocket connection and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn, lastTS string) {
	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// Latest returns the last broadcast result for an indicator name.
func (h *Hub) Latest(name string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[name]
	return e.Data, ok
}

// LatestAll returns a snapshot of every cached result keyed by name.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
