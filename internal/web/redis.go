package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chefai/web")

const (
	redisKeyPrefix  = "chefai:assets:"
	redisBucketsKey = "chefai:assets:buckets"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend keeps each bucket in a Redis hash keyed by asset path, and
// the set of bucket names in a separate Redis set.
type RedisBackend struct {
	rdb redis.UniversalClient
}

// NewRedisBackend connects to addr and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisBackendFromClient(rdb), nil
}

// NewRedisBackendFromClient wraps an existing client, such as a cluster or
// sentinel client. The caller has already checked the connection.
func NewRedisBackendFromClient(rdb redis.UniversalClient) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

func bucketKey(bucket string) string {
	return redisKeyPrefix + bucket
}

func (b *RedisBackend) Put(ctx context.Context, bucket string, asset Asset) error {
	ctx, span := tracer.Start(ctx, "assets.Put",
		trace.WithAttributes(attribute.String("assets.bucket", bucket), attribute.String("assets.path", asset.Path)))
	defer span.End()

	data, err := json.Marshal(asset)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal asset: %w", err)
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, bucketKey(bucket), asset.Path, data)
		pipe.SAdd(ctx, redisBucketsKey, bucket)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, bucket, path string) (*Asset, bool, error) {
	ctx, span := tracer.Start(ctx, "assets.Get",
		trace.WithAttributes(attribute.String("assets.bucket", bucket), attribute.String("assets.path", path)))
	defer span.End()

	data, err := b.rdb.HGet(ctx, bucketKey(bucket), path).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetAttributes(attribute.Bool("assets.hit", false))
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, err
	}

	var asset Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to unmarshal asset %s: %w", path, err)
	}
	span.SetAttributes(attribute.Bool("assets.hit", true))
	return &asset, true, nil
}

func (b *RedisBackend) Buckets(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "assets.Buckets")
	defer span.End()

	names, err := b.rdb.SMembers(ctx, redisBucketsKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return names, nil
}

func (b *RedisBackend) Drop(ctx context.Context, bucket string) error {
	ctx, span := tracer.Start(ctx, "assets.Drop",
		trace.WithAttributes(attribute.String("assets.bucket", bucket)))
	defer span.End()

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, bucketKey(bucket))
		pipe.SRem(ctx, redisBucketsKey, bucket)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
