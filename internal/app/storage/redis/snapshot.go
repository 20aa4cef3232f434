// Package redis keeps leaderboard snapshots in Redis so every replica derives
// trends from the same previous ranking.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/leaderboard"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
)

// DefaultSnapshotKey is used when no key is configured.
const DefaultSnapshotKey = "tribute:leaderboard:snapshot"

// Options configures the Redis connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// keyValue is the subset of the go-redis API the snapshot store needs.
type keyValue interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// SnapshotStore implements storage.LeaderboardSnapshotStore.
type SnapshotStore struct {
	client keyValue
	key    string
	ttl    time.Duration
}

var _ storage.LeaderboardSnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore stores snapshots under key; a zero ttl keeps them forever.
func NewSnapshotStore(client keyValue, key string, ttl time.Duration) *SnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{client: client, key: key, ttl: ttl}
}

func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (*leaderboard.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap leaderboard.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Ranks == nil {
		snap.Ranks = map[string]int{}
	}
	return &snap, nil
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap leaderboard.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
