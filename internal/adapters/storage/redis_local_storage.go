package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	redisclient "github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// RedisLocalStorage implements LocalStorage with plain Redis string keys
// namespaced by store name.
type RedisLocalStorage struct {
	client    *redisclient.Client
	namespace string
}

// NewRedisLocalStorage creates a Redis-backed local storage
func NewRedisLocalStorage(client *redisclient.Client, storeName string) providers.LocalStorage {
	return &RedisLocalStorage{
		client:    client,
		namespace: storeName + ":ls:",
	}
}

func (s *RedisLocalStorage) key(k string) string {
	return s.namespace + k
}

// GetItem retrieves a value
func (s *RedisLocalStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Client().Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStoreUnavailableError("local storage get "+key, err)
	}
	return value, true, nil
}

// SetItem stores a value without expiry
func (s *RedisLocalStorage) SetItem(ctx context.Context, key, value string) error {
	if err := s.client.Client().Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return apperrors.NewStoreUnavailableError("local storage set "+key, err)
	}
	return nil
}

// RemoveItem deletes a value
func (s *RedisLocalStorage) RemoveItem(ctx context.Context, key string) error {
	if err := s.client.Client().Del(ctx, s.key(key)).Err(); err != nil {
		return apperrors.NewStoreUnavailableError("local storage remove "+key, err)
	}
	return nil
}

// GetItems fetches several keys in one round trip
func (s *RedisLocalStorage) GetItems(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	values, err := s.client.Client().MGet(ctx, full...).Result()
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("local storage mget", err)
	}
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Keys lists keys under prefix using SCAN
func (s *RedisLocalStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Client().Scan(ctx, 0, s.key(escapeGlob(prefix))+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("local storage scan", err)
	}
	return out, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
