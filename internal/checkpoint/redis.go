package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/koko2vichan/internal/errors"
)

var tracer = otel.Tracer("koko2vichan-checkpoint")

// DefaultRedisPrefix namespaces checkpoint keys.
const DefaultRedisPrefix = "koko2vichan:progress:"

// RedisStore keeps one JSON checkpoint per board under <prefix><board>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, errors.NewConnectivity("redis checkpoint store", err)
	}

	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Key returns the Redis key holding a board's checkpoint.
func (rs *RedisStore) Key(unit string) string {
	return rs.prefix + unit
}

// Load reads a board's checkpoint.
func (rs *RedisStore) Load(ctx context.Context, unit string) (*Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "redis.load_checkpoint",
		trace.WithAttributes(
			attribute.String("unit", unit),
		),
	)
	defer span.End()

	data, err := rs.client.Get(ctx, rs.Key(unit)).Bytes()
	if err == redis.Nil {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, errors.NewConnectivity("redis checkpoint store", err)
	}

	cp, err := decode(data)
	if err != nil {
		span.RecordError(err)
		return nil, errors.NewCheckpointCorrupt(rs.Key(unit), err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return cp, nil
}

// Save writes a board's checkpoint without expiry.
func (rs *RedisStore) Save(ctx context.Context, unit string, cp *Checkpoint) error {
	ctx, span := tracer.Start(ctx, "redis.save_checkpoint",
		trace.WithAttributes(
			attribute.String("unit", unit),
			attribute.Int64("last_processed_id", cp.LastProcessedID),
			attribute.Bool("completed", cp.Completed),
		),
	)
	defer span.End()

	data, err := json.Marshal(cp)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := rs.client.Set(ctx, rs.Key(unit), data, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func decode(data []byte) (*Checkpoint, error) {
	cp := New()
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, err
	}
	return cp, nil
}
