package ratingstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "rating:"
	maxPlayerHistory = 200
)

// RedisStore keeps one JSON record per player and capped per-player history lists.
type RedisStore struct {
	rdb   *redis.Client
	owned bool
}

// NewRedis connects to a redis:// or rediss:// URL and pings it.
func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, owned: true}, nil
}

// NewRedisWithClient wraps an existing client. Close leaves it open.
func NewRedisWithClient(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func keyPlayer(id string) string  { return redisKeyPrefix + "player:" + id }
func keyHistory(id string) string { return redisKeyPrefix + "history:" + id }
func keyHistorySeq() string       { return redisKeyPrefix + "history:seq" }

func (s *RedisStore) GetRating(ctx context.Context, playerID string) (*domain.RatingRecord, error) {
	id, err := validID(playerID)
	if err != nil {
		return nil, err
	}
	return loadRecord(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRecord(ctx context.Context, g getter, id string) (*domain.RatingRecord, error) {
	raw, err := g.Get(ctx, keyPlayer(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r domain.RatingRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rating %s: %w", id, err)
	}
	return &r, nil
}

// UpsertRating applies the deltas under WATCH so concurrent settlements for the
// same player do not lose counts. A lost race surfaces as redis.TxFailedErr.
func (s *RedisStore) UpsertRating(ctx context.Context, playerID string, newRating, gamesDelta, winDelta, lossDelta int) error {
	id, err := validID(playerID)
	if err != nil {
		return err
	}
	key := keyPlayer(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		r, err := loadRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if r == nil {
			r = &domain.RatingRecord{PlayerID: id, CreatedAt: now}
		}
		r.Rating = newRating
		r.GamesPlayed += gamesDelta
		r.Wins += winDelta
		r.Losses += lossDelta
		r.UpdatedAt = now
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) AppendRatingHistory(ctx context.Context, entry domain.RatingChange) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	id, err := s.rdb.Incr(ctx, keyHistorySeq()).Result()
	if err != nil {
		return err
	}
	entry.ID = id
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, p := range []string{entry.WinnerID, entry.LoserID} {
		if strings.TrimSpace(p) == "" {
			continue
		}
		pipe.LPush(ctx, keyHistory(p), raw)
		pipe.LTrim(ctx, keyHistory(p), 0, maxPlayerHistory-1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) History(ctx context.Context, playerID string, limit int) ([]domain.RatingChange, error) {
	id, err := validID(playerID)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	raws, err := s.rdb.LRange(ctx, keyHistory(id), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RatingChange, 0, len(raws))
	for _, raw := range raws {
		var h domain.RatingChange
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil || !s.owned {
		return nil
	}
	return s.rdb.Close()
}
