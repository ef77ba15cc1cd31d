package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"alpha-engine/internal/model"
)

// batchPublisher is the subset of Writer the buffered publisher needs.
type batchPublisher interface {
	PublishResults(ctx context.Context, results []model.IndicatorSeries) error
}

// BufferedPublisher wraps a Writer with a circuit breaker. While the
// circuit is open, results are held locally (newest per indicator name)
// and republished once the circuit closes again.
type BufferedPublisher struct {
	pub batchPublisher
	cb  *CircuitBreaker
	ctx context.Context

	mu      sync.Mutex
	pending map[string]model.IndicatorSeries
	order   []string
	maxBuf  int

	// Callbacks
	OnBuffer func(count int) // called after results are buffered
	OnFlush  func(count int) // called after buffered results are republished
}

// NewBufferedPublisher creates a BufferedPublisher. ctx bounds the
// background flushes triggered by the breaker closing.
func NewBufferedPublisher(ctx context.Context, w batchPublisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		pub:     w,
		cb:      cb,
		ctx:     ctx,
		pending: make(map[string]model.IndicatorSeries),
		maxBuf:  maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.Flush()
		}
	}
	return bp
}

// PublishResults publishes through the breaker. Results rejected by an
// open circuit are buffered and nil is returned; publish errors are
// buffered too and returned to the caller.
func (bp *BufferedPublisher) PublishResults(ctx context.Context, results []model.IndicatorSeries) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishResults(ctx, results)
	})
	if err == nil {
		return nil
	}
	bp.buffer(results)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

func (bp *BufferedPublisher) buffer(results []model.IndicatorSeries) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, r := range results {
		if _, ok := bp.pending[r.Name]; !ok {
			if len(bp.order) >= bp.maxBuf {
				// drop oldest
				delete(bp.pending, bp.order[0])
				bp.order = bp.order[1:]
			}
			bp.order = append(bp.order, r.Name)
		}
		bp.pending[r.Name] = r
	}
	if bp.OnBuffer != nil {
		bp.OnBuffer(len(results))
	}
}

// Flush republishes buffered results. On failure they are put back.
func (bp *BufferedPublisher) Flush() {
	bp.mu.Lock()
	if len(bp.order) == 0 {
		bp.mu.Unlock()
		return
	}
	batch := make([]model.IndicatorSeries, 0, len(bp.order))
	for _, name := range bp.order {
		batch = append(batch, bp.pending[name])
	}
	bp.pending = make(map[string]model.IndicatorSeries)
	bp.order = nil
	bp.mu.Unlock()

	if err := bp.pub.PublishResults(bp.ctx, batch); err != nil {
		log.Printf("[redis-buffer] flush of %d results failed: %v", len(batch), err)
		bp.mu.Lock()
		for _, r := range batch {
			if _, newer := bp.pending[r.Name]; !newer {
				bp.pending[r.Name] = r
				bp.order = append(bp.order, r.Name)
			}
		}
		bp.mu.Unlock()
		return
	}

	log.Printf("[redis-buffer] flushed %d buffered results", len(batch))
	if bp.OnFlush != nil {
		bp.OnFlush(len(batch))
	}
}

// PendingCount returns the number of buffered results.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.order)
}

// Close is a no-op; the wrapped writer owns the connection.
func (bp *BufferedPublisher) Close() error { return nil }
