package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"mailcache/models"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("cache miss")

const (
	folderKeyPrefix = "emails:folder:"
	AllFoldersKey   = "emails:all_folders"
)

// FolderKey is the key a logical folder's message list is stored under.
func FolderKey(folder string) string {
	return folderKeyPrefix + folder
}

// Store is the key/value surface the coherence engine needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisStore implements Store on a go-redis client.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// GetFolder decodes a cached folder list.
func GetFolder(ctx context.Context, s Store, folder string) ([]models.UniboxEmail, error) {
	raw, err := s.Get(ctx, FolderKey(folder))
	if err != nil {
		return nil, err
	}
	var list []models.UniboxEmail
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", FolderKey(folder), err)
	}
	return list, nil
}

func SetFolder(ctx context.Context, s Store, folder string, list []models.UniboxEmail, ttl time.Duration) error {
	if list == nil {
		list = []models.UniboxEmail{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.Set(ctx, FolderKey(folder), raw, ttl)
}

// GetAll decodes the aggregate map of logical folder key to list.
func GetAll(ctx context.Context, s Store) (map[string][]models.UniboxEmail, error) {
	raw, err := s.Get(ctx, AllFoldersKey)
	if err != nil {
		return nil, err
	}
	all := map[string][]models.UniboxEmail{}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", AllFoldersKey, err)
	}
	return all, nil
}

func SetAll(ctx context.Context, s Store, all map[string][]models.UniboxEmail, ttl time.Duration) error {
	raw, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return s.Set(ctx, AllFoldersKey, raw, ttl)
}
