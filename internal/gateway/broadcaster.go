package gateway

import (
	"strconv"
	"time"
)

// Broadcaster builds result envelopes and sends them to matching clients.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// Broadcast caches data as the latest value of name and sends an envelope
// {"type":"result","name":...,"channel":...,"data":...,"ts":...,"seq":N,
// "channel_seq":M} to every client subscribed to name. computedAt, when
// set, feeds the latency tracker.
func (b *Broadcaster) Broadcast(name, channel string, data []byte, computedAt time.Time) {
	now := b.now().UTC()
	if b.hub.Latency != nil && !computedAt.IsZero() {
		if ms := float64(now.Sub(computedAt).Microseconds()) / 1000.0; ms >= 0 {
			b.hub.Latency.Record(ms)
		}
	}

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.seq++
	seq := b.hub.seq
	b.hub.latest[name] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, exists := b.hub.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(100)
		b.hub.replayBufs[channel] = rb
	}
	b.hub.mu.Unlock()

	buf := buildEnvelope(name, channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.wants(name) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// buildEnvelope hand-crafts the envelope JSON; data must already be JSON.
func buildEnvelope(name, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(name)+len(channel)+len(data)+160)
	buf = append(buf, `{"type":"result","name":`...)
	buf = strconv.AppendQuote(buf, name)
	buf = append(buf, `,"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
