// Package ratingstore persists player rating records and the rating history.
package ratingstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/netplay-matchmaker/internal/config"
	"github.com/park285/netplay-matchmaker/internal/domain"
)

// Store is keyed by the authenticated player identifier. Every call is a single
// best-effort attempt; callers log failures.
type Store interface {
	// GetRating returns nil, nil when the player has no record yet.
	GetRating(ctx context.Context, playerID string) (*domain.RatingRecord, error)
	// UpsertRating sets the rating and adds the deltas, creating the record if needed.
	UpsertRating(ctx context.Context, playerID string, newRating, gamesDelta, winDelta, lossDelta int) error
	AppendRatingHistory(ctx context.Context, entry domain.RatingChange) error
	// History returns the newest entries involving playerID first.
	History(ctx context.Context, playerID string, limit int) ([]domain.RatingChange, error)
	Close() error
}

var ErrInvalidPlayer = errors.New("player id required")

func validID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidPlayer
	}
	return id, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

// Open builds the backend selected by RATING_STORE.
func Open(ctx context.Context, cfg *config.AppConfig) (Store, error) {
	switch cfg.RatingStore {
	case config.StoreMemory, "":
		return NewMemory(), nil
	case config.StoreRedis:
		s, err := NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres, config.StoreSQLite:
		dialect, dsn := DialectPostgres, cfg.DatabaseURL
		if cfg.RatingStore == config.StoreSQLite {
			dialect, dsn = DialectSQLite, cfg.SQLiteFile
		}
		s, err := OpenSQL(ctx, dialect, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported rating store %q", cfg.RatingStore)
	}
}
