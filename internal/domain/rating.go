package domain

import "time"

// DefaultRating is assigned to a player on their first rated match.
const DefaultRating = 1000

// Rating bounds applied after every update.
const (
	MinRating = 100
	MaxRating = 3000
)

// RatingRecord is the per-player record kept by the persistence collaborator.
type RatingRecord struct {
	PlayerID    string    `json:"player_id"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// RatingChange is one append-only history row written per settled rated match.
type RatingChange struct {
	ID        int64     `json:"id,omitempty"`
	MatchID   string    `json:"match_id"`
	WinnerID  string    `json:"winner_id"`
	LoserID   string    `json:"loser_id"`
	WinnerOld int       `json:"winner_old"`
	WinnerNew int       `json:"winner_new"`
	LoserOld  int       `json:"loser_old"`
	LoserNew  int       `json:"loser_new"`
	CreatedAt time.Time `json:"created_at"`
}

// WinnerDelta returns the signed rating change of the winner.
func (c RatingChange) WinnerDelta() int { return c.WinnerNew - c.WinnerOld }

// LoserDelta returns the signed rating change of the loser.
func (c RatingChange) LoserDelta() int { return c.LoserNew - c.LoserOld }
