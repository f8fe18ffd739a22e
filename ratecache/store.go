package ratecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/redis"
	"github.com/honeycombio/rebalancer/logger"
)

// ErrNoValue is returned by Store.GetFloat when the key does not exist.
var ErrNoValue = errors.New("ratecache: no value")

type Field struct {
	Name  string
	Value string
}

// Store is the key-value store the rate cache lives in.
type Store interface {
	// GetFields returns the values of fields in the hash at key, in order.
	// Missing fields are nil.
	GetFields(ctx context.Context, key string, fields []string) ([]*string, error)
	// SetFieldsWithTTL sets every field and re-arms the key's TTL in one
	// pipelined round trip. It is not a transaction: written reports which
	// fields did land, even when err is not nil.
	SetFieldsWithTTL(ctx context.Context, key string, fields []Field, ttl time.Duration) (written []bool, err error)
	// GetFloat reads a string float value, or ErrNoValue.
	GetFloat(ctx context.Context, key string) (float64, error)
}

// RedisStore is a Store over go-redis. Keys are prefixed with the
// configured Redis prefix.
type RedisStore struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`
	// Client may be set before Start to reuse an existing connection.
	Client goredis.UniversalClient

	prefix string
}

var _ Store = (*RedisStore)(nil)

func (r *RedisStore) Start() error {
	cfg := r.Config.GetRedisConfig()
	if r.Client == nil {
		client, err := redis.NewClient(context.Background(), cfg, r.Logger)
		if err != nil {
			return err
		}
		r.Client = client
	}
	r.prefix = cfg.Prefix
	return nil
}

func (r *RedisStore) Stop() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *RedisStore) key(key string) string {
	return redis.PrefixKey(r.prefix, key)
}

func (r *RedisStore) GetFields(ctx context.Context, key string, fields []string) ([]*string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	vals, err := r.Client.HMGet(ctx, r.key(key), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("HMGET %s: %w", key, err)
	}
	out := make([]*string, len(fields))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = &s
		}
	}
	return out, nil
}

func (r *RedisStore) SetFieldsWithTTL(ctx context.Context, key string, fields []Field, ttl time.Duration) ([]bool, error) {
	written := make([]bool, len(fields))
	if len(fields) == 0 {
		return written, nil
	}
	k := r.key(key)
	pipe := r.Client.Pipeline()
	cmds := make([]*goredis.IntCmd, len(fields))
	for i, f := range fields {
		cmds[i] = pipe.HSet(ctx, k, f.Name, f.Value)
	}
	// one PEXPIRE per write batch; every batch re-arms the org key's TTL
	pipe.PExpire(ctx, k, ttl)
	_, err := pipe.Exec(ctx)
	for i, cmd := range cmds {
		written[i] = cmd.Err() == nil
	}
	if err != nil {
		return written, fmt.Errorf("writing %s: %w", key, err)
	}
	return written, nil
}

func (r *RedisStore) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := r.Client.Get(ctx, r.key(key)).Float64()
	if errors.Is(err, goredis.Nil) {
		return 0, ErrNoValue
	}
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", key, err)
	}
	return v, nil
}
