package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldData       = "data"
	attrFieldPrefix = "attr:"
)

// RedisStreamsConfig configures a RedisStreamsBus.
type RedisStreamsConfig struct {
	Addr         string
	Password     string
	DB           int
	Consumer     string
	Block        time.Duration
	ClaimMinIdle time.Duration
	BatchSize    int64
}

// RedisStreamsBus is a Bus over Redis Streams. Each topic is a stream and each subscription
// is a consumer group on the stream it is bound to. Entries that are not acknowledged are
// reclaimed with XAUTOCLAIM once idle for ClaimMinIdle.
type RedisStreamsBus struct {
	client   redis.UniversalClient
	bindings Bindings
	cfg      RedisStreamsConfig
	logger   *slog.Logger
}

// NewRedisStreamsBus connects to Redis and verifies the connection.
func NewRedisStreamsBus(ctx context.Context, cfg RedisStreamsConfig, bindings Bindings, logger *slog.Logger) (*RedisStreamsBus, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStreamsBusFromClient(client, cfg, bindings, logger), nil
}

// NewRedisStreamsBusFromClient wraps an existing client.
func NewRedisStreamsBusFromClient(client redis.UniversalClient, cfg RedisStreamsConfig, bindings Bindings, logger *slog.Logger) *RedisStreamsBus {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &RedisStreamsBus{client: client, bindings: bindings, cfg: cfg, logger: logger}
}

// Publish appends msg to the topic stream.
func (b *RedisStreamsBus) Publish(ctx context.Context, topic string, msg Message) error {
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: topic, Values: streamValues(msg)}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the subscription's consumer group until ctx is done.
func (b *RedisStreamsBus) Subscribe(ctx context.Context, subscription string, handler Handler) error {
	stream, ok := b.bindings[subscription]
	if !ok {
		return fmt.Errorf("unknown subscription %q", subscription)
	}
	if err := b.client.XGroupCreateMkStream(ctx, stream, subscription, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", subscription, err)
	}

	b.logger.Info("consuming stream", slog.String("stream", stream), slog.String("group", subscription), slog.String("consumer", b.cfg.Consumer))
	for ctx.Err() == nil {
		if err := b.reclaim(ctx, stream, subscription, handler); err != nil && ctx.Err() == nil {
			b.logger.Warn("reclaim pending entries failed", slog.String("stream", stream), slog.Any("error", err))
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    subscription,
			Consumer: b.cfg.Consumer,
			Streams:  []string{stream, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.logger.Warn("xreadgroup failed", slog.String("stream", stream), slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				b.dispatch(ctx, stream, subscription, m, handler)
			}
		}
	}
	return nil
}

// Close releases the client.
func (b *RedisStreamsBus) Close() error {
	return b.client.Close()
}

func (b *RedisStreamsBus) reclaim(ctx context.Context, stream, group string, handler Handler) error {
	messages, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    b.cfg.BatchSize,
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range messages {
		b.dispatch(ctx, stream, group, m, handler)
	}
	return nil
}

func (b *RedisStreamsBus) dispatch(ctx context.Context, stream, group string, m redis.XMessage, handler Handler) {
	data, ok := payloadOf(m.Values)
	if !ok {
		b.logger.Warn("dropping stream entry without payload", slog.String("stream", stream), slog.String("id", m.ID))
		_ = b.client.XAck(ctx, stream, group, m.ID).Err()
		return
	}
	if err := handler(ctx, data); err != nil {
		b.logger.Warn("stream entry left pending for redelivery", slog.String("stream", stream), slog.String("id", m.ID), slog.Any("error", err))
		return
	}
	if err := b.client.XAck(ctx, stream, group, m.ID).Err(); err != nil {
		b.logger.Warn("xack failed", slog.String("stream", stream), slog.String("id", m.ID), slog.Any("error", err))
	}
}

func streamValues(msg Message) map[string]any {
	values := make(map[string]any, len(msg.Attributes)+1)
	values[fieldData] = string(msg.Data)
	for k, v := range msg.Attributes {
		values[attrFieldPrefix+k] = v
	}
	return values
}

func payloadOf(values map[string]any) ([]byte, bool) {
	switch v := values[fieldData].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
