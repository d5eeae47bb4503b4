package redisclient

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/office-parking-reservations/internal/booking"
)

// KV stores booking cache entries as plain Redis strings without expiry.
type KV struct {
	client *redis.Client
	prefix string
}

func NewKV(client *redis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := k.client.Get(ctx, k.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, booking.ErrKeyNotFound
		}
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return val, nil
}

func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := k.client.Set(ctx, k.prefix+key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}
