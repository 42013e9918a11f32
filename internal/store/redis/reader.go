package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"quantedge-ta/internal/engine"
	"quantedge-ta/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "taengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader reads OHLCV bars from Redis Streams via Consumer Groups
// and manages engine snapshots in Redis.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
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
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "taengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// EnsureConsumerGroup creates a consumer group on the given streams if it doesn't exist.
// Uses "$" as start ID (only new messages) for fresh groups.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil {
			// Ignore "BUSYGROUP" error — group already exists
			if err.Error() != "BUSYGROUP Consumer Group name already exists" {
				return fmt.Errorf("xgroup create %s: %w", stream, err)
			}
		}
	}
	return nil
}

// ConsumeBars reads closed bars from Redis Streams using consumer groups.
// Blocks on XREADGROUP and sends parsed bars with their stream IDs to the
// output channel. Returns when ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- BarMessage) error {
	// Build stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}

				var bar model.Bar
				if err := json.Unmarshal([]byte(data), &bar); err != nil {
					log.Printf("[redis-reader] unmarshal bar error: %v", err)
					// ACK even on bad message to avoid poison pill
					r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID)
					continue
				}

				select {
				case out <- BarMessage{Bar: bar, StreamID: msg.ID}:
				case <-ctx.Done():
					return ctx.Err()
				}

				// ACK after successful processing
				r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID)
			}
		}
	}
}

// BarMessage carries a bar together with its originating stream ID so the
// consumer can checkpoint how far it has read.
type BarMessage struct {
	Bar      model.Bar
	StreamID string
}

// RecoverPending processes any pending (unACKed) messages from a previous crash.
// This ensures at-least-once delivery semantics.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- BarMessage) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			// Claim and process pending messages
			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			for _, msg := range claimed {
				data, ok := msg.Values["data"].(string)
				if !ok {
					r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
					continue
				}

				var bar model.Bar
				if err := json.Unmarshal([]byte(data), &bar); err != nil {
					r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
					continue
				}

				select {
				case out <- BarMessage{Bar: bar, StreamID: msg.ID}:
				case <-ctx.Done():
					return ctx.Err()
				}

				r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			}

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStaleMessages finds PEL entries idle > minIdleMs across all consumers
// in the group and XCLAIMs them for this consumer. Returns reclaimed messages.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdleMs int64, batchSize int64) ([]goredis.XMessage, error) {
	// Get pending entries across ALL consumers (not just ours)
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   time.Duration(minIdleMs) * time.Millisecond,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	// Filter to entries NOT owned by us (steal from dead consumers)
	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	// XCLAIM with MinIdle to atomically steal stale entries
	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}

	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer runs a periodic background loop that scans for stale PEL
// entries across all streams and reclaims them via XCLAIM. Reclaimed messages
// are parsed and sent to outCh for reprocessing. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration, minIdleMs int64, outCh chan<- BarMessage, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			totalReclaimed := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdleMs, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				for _, msg := range claimed {
					data, ok := msg.Values["data"].(string)
					if !ok {
						r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
						continue
					}
					var bar model.Bar
					if err := json.Unmarshal([]byte(data), &bar); err != nil {
						r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
						continue
					}
					select {
					case outCh <- BarMessage{Bar: bar, StreamID: msg.ID}:
					case <-ctx.Done():
						return
					}
					r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
					totalReclaimed++
				}
			}
			if totalReclaimed > 0 && onReclaim != nil {
				onReclaim(totalReclaimed)
			}
		}
	}
}

// ReadSnapshot loads the latest engine snapshot from Redis.
func (r *Reader) ReadSnapshot(ctx context.Context, snapshotKey string) (*engine.EngineSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil // no snapshot found
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", snapshotKey, err)
	}

	snap, err := engine.UnmarshalSnapshot([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// WriteSnapshot saves an engine snapshot to Redis.
func (r *Reader) WriteSnapshot(ctx context.Context, snapshotKey string, snap *engine.EngineSnapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// Store with TTL of 24h (snapshots are also in SQLite for durability)
	return r.client.Set(ctx, snapshotKey, string(data), 24*time.Hour).Err()
}

// ReplayFromID reads all messages from a stream starting from a given ID.
// Used during restore to replay bars since the last snapshot.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.Bar) (string, error) {
	lastID := startID
	for {
		results, err := r.client.XRange(ctx, stream, "("+lastID, "+").Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		if len(results) == 0 {
			break
		}

		for _, msg := range results {
			data, ok := msg.Values["data"].(string)
			if !ok {
				lastID = msg.ID
				continue
			}

			var bar model.Bar
			if err := json.Unmarshal([]byte(data), &bar); err != nil {
				lastID = msg.ID
				continue
			}

			select {
			case out <- bar:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}

			lastID = msg.ID
		}

		// If we got fewer than expected, we've reached the end
		if len(results) < 1000 {
			break
		}
	}
	return lastID, nil
}

// DiscoverBarStreams finds all bar streams that exist for the given
// intervals and symbols.
func (r *Reader) DiscoverBarStreams(ctx context.Context, intervals, symbols []string) []string {
	var streams []string
	for _, iv := range intervals {
		for _, sym := range symbols {
			stream := "bars:" + iv + ":" + sym
			exists, err := r.client.Exists(ctx, stream).Result()
			if err == nil && exists > 0 {
				streams = append(streams, stream)
			}
		}
	}
	return streams
}

// SubscribeFormingBars subscribes to the pub:bars:* PubSub pattern and feeds
// forming bars into the output channel. Closed bars arriving on PubSub are
// skipped because they also come through XREADGROUP. Blocks until ctx is
// cancelled.
func (r *Reader) SubscribeFormingBars(ctx context.Context, out chan<- model.Bar) error {
	pubsub := r.client.PSubscribe(ctx, "pub:bars:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var bar model.Bar
			if err := json.Unmarshal([]byte(msg.Payload), &bar); err != nil {
				continue
			}
			if !bar.Forming {
				continue
			}
			select {
			case out <- bar:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel.
// Returns the PubSub handle so the caller can listen on .Channel().
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Redis Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
