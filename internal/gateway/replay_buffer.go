package gateway

import (
	"sync"

	"github.com/gammazero/deque"
)

// replayEntry holds a single broadcast envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one channel so clients
// can backfill gaps they detect through channel_seq. Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries *deque.Deque[replayEntry]
	cap     int
}

// NewReplayBuffer creates a replay buffer holding up to capacity entries.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &ReplayBuffer{
		entries: deque.New[replayEntry](capacity),
		cap:     capacity,
	}
}

// Push appends an envelope, evicting the oldest one when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.entries.Len() == rb.cap {
		rb.entries.PopFront()
	}
	rb.entries.PushBack(replayEntry{Seq: seq, Data: cp})
}

// Range returns the entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []replayEntry
	for i := 0; i < rb.entries.Len(); i++ {
		e := rb.entries.At(i)
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.entries.Len()
}
