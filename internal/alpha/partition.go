package alpha

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

// Partition is the half-open index range [Start, End) of one group.
type Partition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (p Partition) Len() int { return p.End - p.Start }

// Contains reports whether i lies inside the partition.
func (p Partition) Contains(i int) bool { return i >= p.Start && i < p.End }

type partitionKey struct{ n, groups int }

// maxCachedLayouts bounds the layout cache; the oldest layout is evicted
// first.
const maxCachedLayouts = 64

// layoutCache holds recently computed layouts keyed by (length, groups).
// Cached slices are shared and must be treated as read-only.
type layoutCache struct {
	mu    sync.Mutex
	byKey map[partitionKey][]Partition
	order deque.Deque[partitionKey]
}

var partitionCache = &layoutCache{byKey: make(map[partitionKey][]Partition)}

func (c *layoutCache) get(key partitionKey) ([]Partition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts, ok := c.byKey[key]
	return parts, ok
}

func (c *layoutCache) put(key partitionKey, parts []Partition) []Partition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byKey[key]; ok {
		return existing
	}
	for c.order.Len() >= maxCachedLayouts {
		delete(c.byKey, c.order.PopFront())
	}
	c.byKey[key] = parts
	c.order.PushBack(key)
	return parts
}

func (c *layoutCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Partitions returns groups contiguous ranges of equal size n/groups in
// left-to-right order. The returned slice may be shared; do not modify it.
func Partitions(n, groups int) ([]Partition, error) {
	if groups <= 0 {
		return nil, fmt.Errorf("groups %d must be positive: %w", groups, ErrConfiguration)
	}
	if n < 0 {
		return nil, fmt.Errorf("series length %d: %w", n, ErrConfiguration)
	}
	if n%groups != 0 {
		return nil, fmt.Errorf("series length %d not divisible by %d groups: %w", n, groups, ErrConfiguration)
	}

	key := partitionKey{n: n, groups: groups}
	if parts, ok := partitionCache.get(key); ok {
		return parts, nil
	}

	size := n / groups
	parts := make([]Partition, groups)
	for g := range parts {
		parts[g] = Partition{Start: g * size, End: (g + 1) * size}
	}
	return partitionCache.put(key, parts), nil
}
