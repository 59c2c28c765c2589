package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"levelbot/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" yaml:"addr" env:"LEVELBOT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" yaml:"password" env:"LEVELBOT_REDIS_PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"LEVELBOT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// KeyPrefix namespaces every key, e.g. "levelbot:".
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"LEVELBOT_REDIS_KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "levelbot:",
	}
}

// maxTxRetries bounds optimistic-lock retries in SetProfile.
const maxTxRetries = 5

// Store implements engine.ProfileStore and engine.GroupStore on Redis.
// Data structure:
// - {prefix}user:{user_id}:profile -> JSON blob of core.Profile
// - {prefix}users -> sorted set of user ids scored by insertion sequence
// - {prefix}users:seq -> insertion sequence counter
// - {prefix}group:{group_id}:features -> hash feature -> "1" | "0"
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: config.KeyPrefix}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) profileKey(user core.UserID) string {
	return fmt.Sprintf("%suser:%s:profile", s.prefix, user)
}

func (s *Store) indexKey() string { return s.prefix + "users" }

func (s *Store) seqKey() string { return s.prefix + "users:seq" }

func (s *Store) featuresKey(group core.GroupID) string {
	return fmt.Sprintf("%sgroup:%s:features", s.prefix, group)
}

// Lua script registering a user in the insertion-ordered index exactly once
var indexScript = redis.NewScript(`
	local index = KEYS[1]
	local seq = KEYS[2]
	local member = ARGV[1]

	if redis.call('ZSCORE', index, member) then
		return 0
	end

	local n = redis.call('INCR', seq)
	redis.call('ZADD', index, n, member)
	return 1
`)

// GetProfile loads the stored profile. Field-level garbage is tolerated by
// the lenient decoder; a document that is not an object reads as a default
// profile so the next write replaces it.
func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error) {
	data, err := s.client.Get(ctx, s.profileKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Profile{}, false, nil
	}
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("failed to get profile: %w", err)
	}
	var p core.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("corrupt profile record, using defaults", "store", "redis", "user", user, "error", err)
		return core.NewProfile(user), true, nil
	}
	if p.ID == "" {
		p.ID = user
	}
	return p, true, nil
}

// SetProfile merges patch into the stored profile under WATCH, creating the
// profile when absent.
func (s *Store) SetProfile(ctx context.Context, user core.UserID, patch core.ProfilePatch) error {
	key := s.profileKey(user)
	txf := func(tx *redis.Tx) error {
		p := core.NewProfile(user)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &p); err != nil {
				p = core.NewProfile(user)
			}
			p.ID = user
		}
		p.Apply(patch)
		p.Updated = time.Now().UTC()
		out, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	if err := indexScript.Run(ctx, s.client, []string{s.indexKey(), s.seqKey()}, string(user)).Err(); err != nil {
		return fmt.Errorf("failed to index profile: %w", err)
	}
	return nil
}

// ListProfiles returns every indexed profile in insertion order. Records that
// cannot be decoded are returned as default profiles so the leaderboard can
// still be built.
func (s *Store) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(ids) == 0 {
		return []core.Profile{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.profileKey(core.UserID(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	out := make([]core.Profile, 0, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		id := core.UserID(ids[i])
		var p core.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			p = core.NewProfile(id)
		}
		p.ID = id
		out = append(out, p)
	}
	return out, nil
}

// IsFeatureEnabled reports the group's flag; unknown groups and features are
// enabled.
func (s *Store) IsFeatureEnabled(ctx context.Context, group core.GroupID, feature string) (bool, error) {
	v, err := s.client.HGet(ctx, s.featuresKey(group), feature).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read feature flag: %w", err)
	}
	return v != "0", nil
}

func (s *Store) SetFeature(ctx context.Context, group core.GroupID, feature string, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	if err := s.client.HSet(ctx, s.featuresKey(group), feature, v).Err(); err != nil {
		return fmt.Errorf("failed to set feature flag: %w", err)
	}
	return nil
}
