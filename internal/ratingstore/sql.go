package ratingstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/park285/netplay-matchmaker/internal/domain"
)

// Dialect selects driver name and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// SQLStore backs ratings with Postgres in production and SQLite for local runs.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens, pings and migrates the database.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn is required")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// one writer; also keeps a :memory: database alive across calls
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	idCol := "BIGSERIAL PRIMARY KEY"
	tsType := "TIMESTAMPTZ"
	if s.dialect == DialectSQLite {
		idCol = "INTEGER PRIMARY KEY AUTOINCREMENT"
		tsType = "TIMESTAMP"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS player_ratings (
			player_id    TEXT PRIMARY KEY,
			rating       INTEGER NOT NULL,
			games_played INTEGER NOT NULL DEFAULT 0,
			wins         INTEGER NOT NULL DEFAULT 0,
			losses       INTEGER NOT NULL DEFAULT 0,
			created_at   ` + tsType + ` NOT NULL,
			updated_at   ` + tsType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rating_history (
			id         ` + idCol + `,
			match_id   TEXT NOT NULL,
			winner_id  TEXT NOT NULL,
			loser_id   TEXT NOT NULL,
			winner_old INTEGER NOT NULL,
			winner_new INTEGER NOT NULL,
			loser_old  INTEGER NOT NULL,
			loser_new  INTEGER NOT NULL,
			created_at ` + tsType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS rating_history_winner_idx ON rating_history (winner_id)`,
		`CREATE INDEX IF NOT EXISTS rating_history_loser_idx ON rating_history (loser_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) GetRating(ctx context.Context, playerID string) (*domain.RatingRecord, error) {
	id, err := validID(playerID)
	if err != nil {
		return nil, err
	}
	q := s.rebind(`SELECT player_id, rating, games_played, wins, losses, created_at, updated_at
		FROM player_ratings WHERE player_id = ?`)
	var r domain.RatingRecord
	err = s.db.QueryRowContext(ctx, q, id).Scan(&r.PlayerID, &r.Rating, &r.GamesPlayed, &r.Wins, &r.Losses, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) UpsertRating(ctx context.Context, playerID string, newRating, gamesDelta, winDelta, lossDelta int) error {
	id, err := validID(playerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	q := s.rebind(`INSERT INTO player_ratings (player_id, rating, games_played, wins, losses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (player_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			games_played = player_ratings.games_played + EXCLUDED.games_played,
			wins = player_ratings.wins + EXCLUDED.wins,
			losses = player_ratings.losses + EXCLUDED.losses,
			updated_at = EXCLUDED.updated_at`)
	_, err = s.db.ExecContext(ctx, q, id, newRating, gamesDelta, winDelta, lossDelta, now, now)
	return err
}

func (s *SQLStore) AppendRatingHistory(ctx context.Context, e domain.RatingChange) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := s.rebind(`INSERT INTO rating_history
		(match_id, winner_id, loser_id, winner_old, winner_new, loser_old, loser_new, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, e.MatchID, e.WinnerID, e.LoserID, e.WinnerOld, e.WinnerNew, e.LoserOld, e.LoserNew, e.CreatedAt)
	return err
}

func (s *SQLStore) History(ctx context.Context, playerID string, limit int) ([]domain.RatingChange, error) {
	id, err := validID(playerID)
	if err != nil {
		return nil, err
	}
	q := s.rebind(`SELECT id, match_id, winner_id, loser_id, winner_old, winner_new, loser_old, loser_new, created_at
		FROM rating_history WHERE winner_id = ? OR loser_id = ?
		ORDER BY id DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, id, id, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RatingChange
	for rows.Next() {
		var h domain.RatingChange
		if err := rows.Scan(&h.ID, &h.MatchID, &h.WinnerID, &h.LoserID, &h.WinnerOld, &h.WinnerNew, &h.LoserOld, &h.LoserNew, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
