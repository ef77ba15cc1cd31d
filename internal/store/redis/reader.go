package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader serves cached results and listens for live results and context
// updates.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Latest returns the cached result for an indicator name, or nil when the
// key is absent or expired.
func (r *Reader) Latest(ctx context.Context, name string) (*model.IndicatorSeries, error) {
	key := (&model.IndicatorSeries{Name: name}).LatestKey()
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeResult(data)
}

// SubscribeResults forwards every published result to out until ctx is
// cancelled. Undecodable payloads are logged and skipped.
func (r *Reader) SubscribeResults(ctx context.Context, out chan<- model.IndicatorSeries) error {
	pubsub := r.client.PSubscribe(ctx, ResultPattern)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe %s: %w", ResultPattern, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			res, err := decodeResult(msg.Payload)
			if err != nil {
				log.Printf("[redis-reader] bad result on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- *res:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// SubscribeContext applies every valid update on ConfigChannel through
// apply until ctx is cancelled. Invalid updates are logged and ignored, so
// the active context never holds an unvalidated value.
func (r *Reader) SubscribeContext(ctx context.Context, apply func(alpha.Context)) error {
	pubsub := r.client.Subscribe(ctx, ConfigChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", ConfigChannel, err)
	}
	log.Printf("[redis-reader] listening for context updates on %s", ConfigChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c, err := decodeContext(msg.Payload)
			if err != nil {
				log.Printf("[redis-reader] rejected context update %q: %v", msg.Payload, err)
				continue
			}
			apply(c)
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

func decodeResult(data string) (*model.IndicatorSeries, error) {
	var res model.IndicatorSeries
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

func decodeContext(data string) (alpha.Context, error) {
	var u model.ContextUpdate
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return alpha.Context{}, fmt.Errorf("unmarshal context update: %w", err)
	}
	return u.Context()
}
