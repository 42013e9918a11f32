package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"quantedge-ta/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: ~3 days of 1m results + buffer
	resultStreamMaxLen = 4500
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes indicator results and bars to Redis.
type Writer struct {
	client *goredis.Client
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
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// WriteResultBatch writes multiple indicator results in a single Redis pipeline.
// This batches XADD + SET + PUBLISH for all results into one network roundtrip.
// Live (forming-bar) results go out via PubSub only; confirmed results get the
// full XADD + SET latest + PUBLISH treatment.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range results {
		res := &results[i]
		if !res.Ready && !res.Live {
			continue
		}

		jsonBytes := res.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		pubsubCh := res.PubSubChannel()

		if res.Live {
			pipe.Publish(ctx, pubsubCh, jsonData)
			continue
		}

		// Confirmed: XADD + SET + PUBLISH
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: res.StreamKey(),
			MaxLen: resultStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, res.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] result batch pipeline error (%d results): %v", len(results), err)
		return fmt.Errorf("result batch pipeline: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
