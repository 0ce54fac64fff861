// Package livefeed publishes in-progress game snapshots to Redis and
// serves them over a small read-only HTTP endpoint for spectators.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-arena-server/pkg/protocol"
)

const (
	gameKeyPrefix = "live:game:"
	indexKey      = "live:index"
	snapshotTTL   = 24 * time.Hour
)

type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for live feed")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient is for tests that bring their own client.
func NewStoreWithClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func gameKey(gameID string) string { return gameKeyPrefix + gameID }

// Publish stores the latest snapshot for a game and indexes it as live.
func (s *Store) Publish(ctx context.Context, st protocol.GameState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, gameKey(st.GameID), b, snapshotTTL)
	pipe.SAdd(ctx, indexKey, st.GameID)
	_, err = pipe.Exec(ctx)
	return err
}

// Finish writes the terminal snapshot and removes the game from the live
// index. The snapshot itself stays readable until its TTL lapses.
func (s *Store) Finish(ctx context.Context, st protocol.GameState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, gameKey(st.GameID), b, snapshotTTL)
	pipe.SRem(ctx, indexKey, st.GameID)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the stored snapshot, or nil when the game is unknown.
func (s *Store) Get(ctx context.Context, gameID string) (*protocol.GameState, error) {
	raw, err := s.rdb.Get(ctx, gameKey(gameID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st protocol.GameState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LiveIDs lists the games currently in progress.
func (s *Store) LiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
