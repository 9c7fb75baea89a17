package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/readyforquantum/quantforge/pkg/core"
)

// Redis key layout, matching the source catalog's hash/set scheme so a
// deployment can migrate between the two implementations in place.
const (
	redisCatalogKey          = "model:catalog"
	redisConvertingKey       = "model:converting"
	redisConvertingFailedKey = "model:converting:failed"
	redisConvertingProgress  = "model:converting:progress"
)

// RedisStore is a Store backed by a Redis hash (the catalog) plus two sets
// and a hash (converting/failed/progress markers), guarded by WATCH/MULTI
// optimistic transactions so multiple converter processes can share one
// Redis instance safely.
type RedisStore struct {
	client *redis.Client
	budget core.RetryBudget
}

// NewRedisStore dials addr and returns a ready RedisStore. It does not
// verify connectivity; callers that want a fail-fast startup should call
// Ping first.
func NewRedisStore(addr, user, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Username: user,
			Password: password,
			DB:       db,
		}),
		budget: core.DefaultRetryBudget(),
	}
}

// Ping verifies the Redis connection is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) safe(ctx context.Context, op func() error) error {
	err := core.Retry(ctx, s.budget, func() error {
		err := op()
		if err == redis.TxFailedErr {
			return err // retryable — WATCH saw a concurrent write
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err // already classified by op; Retry unwraps it
		}
		if err != nil {
			return core.Permanent(fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err))
		}
		return nil
	})
	if err == redis.TxFailedErr {
		return core.ErrPreconditionFailed
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, key core.ModelKey) (*core.ModelEntry, error) {
	if err := core.ValidateModelKey(key); err != nil {
		return nil, err
	}

	raw, err := s.client.HGet(ctx, redisCatalogKey, string(key)).Result()
	if err == redis.Nil {
		return nil, core.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	var entry core.ModelEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("decoding catalog entry for %s: %w", key, err)
	}
	return &entry, nil
}

func (s *RedisStore) Add(ctx context.Context, key core.ModelKey, entry *core.ModelEntry) error {
	if err := core.ValidateModelKey(key); err != nil {
		return err
	}

	var added bool
	err := s.safe(ctx, func() error {
		added = false
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.HExists(ctx, redisCatalogKey, string(key)).Result()
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			data, err := json.Marshal(entry)
			if err != nil {
				return core.Permanent(err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, redisCatalogKey, string(key), data)
				return nil
			})
			if err == nil {
				added = true
			}
			return err
		}, redisCatalogKey)
	})
	if err != nil {
		return err
	}
	if !added {
		return core.ErrModelExists
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key core.ModelKey, mutate Mutator) error {
	if err := core.ValidateModelKey(key); err != nil {
		return err
	}

	return s.safe(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGet(ctx, redisCatalogKey, string(key)).Result()
			if err == redis.Nil {
				return core.Permanent(core.ErrModelNotFound)
			}
			if err != nil {
				return err
			}
			var entry core.ModelEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				return core.Permanent(fmt.Errorf("decoding catalog entry for %s: %w", key, err))
			}
			clone := entry.Clone()
			if err := mutate(clone); err != nil {
				return core.Permanent(err)
			}
			data, err := json.Marshal(clone)
			if err != nil {
				return core.Permanent(err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, redisCatalogKey, string(key), data)
				return nil
			})
			return err
		}, redisCatalogKey)
	})
}

func (s *RedisStore) Delete(ctx context.Context, key core.ModelKey) error {
	return s.safe(ctx, func() error {
		n, err := s.client.HDel(ctx, redisCatalogKey, string(key)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.Permanent(core.ErrModelNotFound)
		}
		return nil
	})
}

func (s *RedisStore) List(ctx context.Context) (map[core.ModelKey]*core.ModelEntry, error) {
	raw, err := s.client.HGetAll(ctx, redisCatalogKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	out := make(map[core.ModelKey]*core.ModelEntry, len(raw))
	for k, v := range raw {
		var entry core.ModelEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue // skip malformed entries rather than fail the whole listing
		}
		out[core.ModelKey(k)] = &entry
	}
	return out, nil
}

func (s *RedisStore) MarkConverting(ctx context.Context, key core.ModelKey) (bool, error) {
	var n int64
	err := s.safe(ctx, func() error {
		var err error
		n, err = s.client.SAdd(ctx, redisConvertingKey, string(key)).Result()
		return err
	})
	return n == 1, err
}

func (s *RedisStore) UnmarkConverting(ctx context.Context, key core.ModelKey) error {
	return s.safe(ctx, func() error {
		return s.client.SRem(ctx, redisConvertingKey, string(key)).Err()
	})
}

func (s *RedisStore) IsConverting(ctx context.Context, key core.ModelKey) (bool, error) {
	var ok bool
	err := s.safe(ctx, func() error {
		var err error
		ok, err = s.client.SIsMember(ctx, redisConvertingKey, string(key)).Result()
		return err
	})
	return ok, err
}

func (s *RedisStore) MarkFailed(ctx context.Context, key core.ModelKey) error {
	return s.safe(ctx, func() error {
		return s.client.SAdd(ctx, redisConvertingFailedKey, string(key)).Err()
	})
}

func (s *RedisStore) UnmarkFailed(ctx context.Context, key core.ModelKey) error {
	return s.safe(ctx, func() error {
		return s.client.SRem(ctx, redisConvertingFailedKey, string(key)).Err()
	})
}

func (s *RedisStore) IsFailed(ctx context.Context, key core.ModelKey) (bool, error) {
	var ok bool
	err := s.safe(ctx, func() error {
		var err error
		ok, err = s.client.SIsMember(ctx, redisConvertingFailedKey, string(key)).Result()
		return err
	})
	return ok, err
}

func (s *RedisStore) SetQuantProgress(ctx context.Context, key core.ModelKey, quantName string) error {
	return s.safe(ctx, func() error {
		return s.client.HSet(ctx, redisConvertingProgress, string(key), quantName).Err()
	})
}

func (s *RedisStore) GetQuantProgress(ctx context.Context, key core.ModelKey) (string, error) {
	v, err := s.client.HGet(ctx, redisConvertingProgress, string(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return v, nil
}

func (s *RedisStore) ClearQuantProgress(ctx context.Context, key core.ModelKey) error {
	return s.safe(ctx, func() error {
		return s.client.HDel(ctx, redisConvertingProgress, string(key)).Err()
	})
}

func (s *RedisStore) ImportMany(ctx context.Context, candidates []ImportCandidate) (ImportResult, error) {
	var result ImportResult
	err := s.safe(ctx, func() error {
		result = ImportResult{}
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, c := range candidates {
					raw, err := tx.HGet(ctx, redisCatalogKey, string(c.Key)).Result()
					if err == redis.Nil {
						entry := core.NewModelEntry(c.Parameters, c.HasConfig, c.IsMOE)
						data, err := json.Marshal(entry)
						if err != nil {
							return core.Permanent(err)
						}
						pipe.HSet(ctx, redisCatalogKey, string(c.Key), data)
						result.Added++
						continue
					}
					if err != nil {
						return err
					}
					var existing core.ModelEntry
					if err := json.Unmarshal([]byte(raw), &existing); err != nil {
						return core.Permanent(fmt.Errorf("decoding catalog entry for %s: %w", c.Key, err))
					}
					if existing.IsMOE == c.IsMOE {
						continue
					}
					existing.IsMOE = c.IsMOE
					data, err := json.Marshal(&existing)
					if err != nil {
						return core.Permanent(err)
					}
					pipe.HSet(ctx, redisCatalogKey, string(c.Key), data)
					result.Updated++
				}
				return nil
			})
			return err
		}, redisCatalogKey)
	})
	return result, err
}

func (s *RedisStore) Backup(ctx context.Context, path string) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	converting, err := s.client.SMembers(ctx, redisConvertingKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	failed, err := s.client.SMembers(ctx, redisConvertingFailedKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	progress, err := s.client.HGetAll(ctx, redisConvertingProgress).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	file := backupFile{
		Entries:    entries,
		Converting: toModelKeys(converting),
		Failed:     toModelKeys(failed),
		Progress:   toProgressMap(progress),
	}
	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *RedisStore) Restore(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", path, err)
	}
	var file backupFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decoding backup %s: %w", path, err)
	}

	return s.safe(ctx, func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisCatalogKey, redisConvertingKey, redisConvertingFailedKey, redisConvertingProgress)
			for k, entry := range file.Entries {
				data, err := json.Marshal(entry)
				if err != nil {
					return core.Permanent(err)
				}
				pipe.HSet(ctx, redisCatalogKey, string(k), data)
			}
			if len(file.Converting) > 0 {
				pipe.SAdd(ctx, redisConvertingKey, toInterfaceSlice(file.Converting)...)
			}
			if len(file.Failed) > 0 {
				pipe.SAdd(ctx, redisConvertingFailedKey, toInterfaceSlice(file.Failed)...)
			}
			for k, v := range file.Progress {
				pipe.HSet(ctx, redisConvertingProgress, string(k), v)
			}
			return nil
		})
		return err
	})
}

func toModelKeys(raw []string) []core.ModelKey {
	out := make([]core.ModelKey, len(raw))
	for i, k := range raw {
		out[i] = core.ModelKey(k)
	}
	return out
}

func toProgressMap(raw map[string]string) map[core.ModelKey]string {
	out := make(map[core.ModelKey]string, len(raw))
	for k, v := range raw {
		out[core.ModelKey(k)] = v
	}
	return out
}

func toInterfaceSlice(keys []core.ModelKey) []interface{} {
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
