// Package rating computes ELO-style rating changes for settled rated matches.
// Everything here is pure; persistence lives in internal/ratingstore.
package rating

import (
	"math"
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
)

const (
	baseK = 32.0

	provisionalGames = 10
	provisionalMul   = 1.5

	veteranGames = 30
	veteranMul   = 0.8

	wideGapRating = 200
	wideGapMul    = 0.9
)

// Result is the outcome of a match from one player's point of view.
type Result int

const (
	Loss Result = iota
	Win
)

func (r Result) score() float64 {
	if r == Win {
		return 1
	}
	return 0
}

// ExpectedScore is the logistic win expectation of player against opponent.
func ExpectedScore(player, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-player)/400))
}

// KFactor scales the base K by experience and by the rating gap.
func KFactor(gamesPlayed, ratingDiff int) float64 {
	k := baseK
	switch {
	case gamesPlayed < provisionalGames:
		k *= provisionalMul
	case gamesPlayed >= veteranGames:
		k *= veteranMul
	}
	if ratingDiff < 0 {
		ratingDiff = -ratingDiff
	}
	if ratingDiff > wideGapRating {
		k *= wideGapMul
	}
	return k
}

// Clamp bounds a rating to [MinRating, MaxRating].
func Clamp(r int) int {
	if r < domain.MinRating {
		return domain.MinRating
	}
	if r > domain.MaxRating {
		return domain.MaxRating
	}
	return r
}

// NewRating returns the updated rating and the applied delta (after clamping).
func NewRating(player, opponent int, result Result, gamesPlayed int) (int, int) {
	k := KFactor(gamesPlayed, player-opponent)
	change := int(math.Round(k * (result.score() - ExpectedScore(player, opponent))))
	next := Clamp(player + change)
	return next, next - player
}

// Side is one participant's standing read at the start of settlement.
type Side struct {
	PlayerID    string
	Rating      int
	GamesPlayed int
}

// SideFrom converts a stored record, treating nil as a fresh player.
func SideFrom(playerID string, rec *domain.RatingRecord) Side {
	if rec == nil {
		return Side{PlayerID: playerID, Rating: domain.DefaultRating}
	}
	return Side{PlayerID: playerID, Rating: rec.Rating, GamesPlayed: rec.GamesPlayed}
}

// Outcome is the full result of settling one rated match.
type Outcome struct {
	WinnerID    string
	LoserID     string
	WinnerNew   int
	LoserNew    int
	WinnerDelta int
	LoserDelta  int
	History     domain.RatingChange
}

// Settle computes both sides from the ratings passed in. Neither call observes the
// other's result.
func Settle(matchID string, winner, loser Side, at time.Time) Outcome {
	wNew, wDelta := NewRating(winner.Rating, loser.Rating, Win, winner.GamesPlayed)
	lNew, lDelta := NewRating(loser.Rating, winner.Rating, Loss, loser.GamesPlayed)
	return Outcome{
		WinnerID:    winner.PlayerID,
		LoserID:     loser.PlayerID,
		WinnerNew:   wNew,
		LoserNew:    lNew,
		WinnerDelta: wDelta,
		LoserDelta:  lDelta,
		History: domain.RatingChange{
			MatchID:   matchID,
			WinnerID:  winner.PlayerID,
			LoserID:   loser.PlayerID,
			WinnerOld: winner.Rating,
			WinnerNew: wNew,
			LoserOld:  loser.Rating,
			LoserNew:  lNew,
			CreatedAt: at,
		},
	}
}
