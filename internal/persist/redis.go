package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter keeps the snapshot as a single Redis value. It is the
// warm tier: quick to read on restart, not the durable system of
// record.
type RedisAdapter struct {
	rdb  *redis.Client
	name string
}

// NewRedisAdapter creates a Redis-backed adapter keyed by name.
func NewRedisAdapter(rdb *redis.Client, name string) *RedisAdapter {
	return &RedisAdapter{rdb: rdb, name: name}
}

func (a *RedisAdapter) key() string {
	return fmt.Sprintf("wager:snapshot:%s", a.name)
}

func (a *RedisAdapter) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}
	if err := a.rdb.Set(ctx, a.key(), data, 0).Err(); err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Load(ctx context.Context) (*State, error) {
	data, err := a.rdb.Get(ctx, a.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: load snapshot: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	if state.Version != SchemaVersion {
		return nil, fmt.Errorf("persist: unsupported snapshot version %d", state.Version)
	}
	return &state, nil
}
