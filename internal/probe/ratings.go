package probe

import (
	"context"
	"fmt"
	"io"

	"github.com/park285/netplay-matchmaker/internal/domain"
	"github.com/park285/netplay-matchmaker/internal/ratingstore"
)

// WriteRatingReport prints playerID's record and the newest limit history rows.
func WriteRatingReport(ctx context.Context, w io.Writer, st ratingstore.Store, playerID string, limit int) error {
	rec, err := st.GetRating(ctx, playerID)
	if err != nil {
		return fmt.Errorf("load rating: %w", err)
	}
	if rec == nil {
		fmt.Fprintf(w, "%s: no rated matches (starts at %d)\n", playerID, domain.DefaultRating)
		return nil
	}
	fmt.Fprintf(w, "%s: rating=%d games=%d wins=%d losses=%d\n",
		rec.PlayerID, rec.Rating, rec.GamesPlayed, rec.Wins, rec.Losses)

	hist, err := st.History(ctx, playerID, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, h := range hist {
		delta, opp, res := h.LoserDelta(), h.WinnerID, "L"
		if h.WinnerID == playerID {
			delta, opp, res = h.WinnerDelta(), h.LoserID, "W"
		}
		fmt.Fprintf(w, "  %s %s vs %s %+d (%s)\n",
			h.CreatedAt.UTC().Format("2006-01-02 15:04"), res, opp, delta, h.MatchID)
	}
	return nil
}
