package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed indicator names; empty means everything.
	subMu sync.RWMutex
	names map[string]bool
}

// ClientMsg is a control message sent by a client:
//
//	{"type":"SUBSCRIBE","names":["MA_20","RANK"]}
//	{"type":"UNSUBSCRIBE","names":["RANK"]}
//	{"ping":1700000000000}
type ClientMsg struct {
	Type  string   `json:"type"`
	Names []string `json:"names,omitempty"`
	Ping  int64    `json:"ping,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn:  conn,
		send:  make(chan []byte, 256),
		hub:   h,
		names: make(map[string]bool),
	}
}

// wants reports whether the client is subscribed to name.
func (c *Client) wants(name string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.names) == 0 || c.names[name]
}

func (c *Client) subscribe(names []string) {
	c.subMu.Lock()
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			c.names[n] = true
		}
	}
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(names []string) {
	c.subMu.Lock()
	for _, n := range names {
		delete(c.names, strings.TrimSpace(n))
	}
	c.subMu.Unlock()
}

// sendInitialState queues the cached result of every indicator the client
// wants that changed after lastTS (RFC3339Nano, optional).
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	names := maps.Keys(c.hub.latest)
	slices.Sort(names)
	for _, name := range names {
		entry := c.hub.latest[name]
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if !c.wants(name) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"type":        "result",
			"name":        name,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.sendJSON(map[string]string{"type": "error", "error": "invalid JSON"})
			continue
		}

		switch strings.ToUpper(msg.Type) {
		case "SUBSCRIBE":
			c.subscribe(msg.Names)
			c.sendJSON(map[string]interface{}{"type": "subscribed", "names": msg.Names})
		case "UNSUBSCRIBE":
			c.unsubscribe(msg.Names)
			c.sendJSON(map[string]interface{}{"type": "unsubscribed", "names": msg.Names})
		default:
			if msg.Ping > 0 {
				c.sendJSON(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				continue
			}
			c.sendJSON(map[string]string{"type": "error", "error": "unknown message type " + msg.Type})
		}
	}
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
