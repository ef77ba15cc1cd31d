package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute

	// ConfigChannel carries model.ContextUpdate JSON to every engine instance.
	ConfigChannel = "config:alpha"
	// ResultPattern matches every result PubSub channel.
	ResultPattern = "pub:alpha:*"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	LatestTTL time.Duration // 0 = 30m
}

// Writer publishes indicator results and context updates to Redis.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration

	// OnPublish is called with the pipeline latency after each batch.
	OnPublish func(d time.Duration, err error)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, ttl: ttl}, nil
}

// PublishResults writes every result in one pipeline: SET of the latest
// value (with TTL) followed by PUBLISH on the result's channel.
func (w *Writer) PublishResults(ctx context.Context, results []model.IndicatorSeries) error {
	if len(results) == 0 {
		return nil
	}
	start := time.Now()

	pipe := w.client.Pipeline()
	for i := range results {
		res := &results[i]
		data := string(res.JSON())
		pipe.Set(ctx, res.LatestKey(), data, w.ttl)
		pipe.Publish(ctx, res.PubSubChannel(), data)
	}
	_, err := pipe.Exec(ctx)

	if w.OnPublish != nil {
		w.OnPublish(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("redis publish %d results: %w", len(results), err)
	}
	return nil
}

// PublishContext broadcasts c on ConfigChannel so that every subscribed
// instance switches to it.
func (w *Writer) PublishContext(ctx context.Context, c alpha.Context) error {
	return w.client.Publish(ctx, ConfigChannel, string(model.UpdateOf(c).JSON())).Err()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
