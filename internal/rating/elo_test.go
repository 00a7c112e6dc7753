package rating

import (
	"math"
	"testing"
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
)

func TestExpectedScore(t *testing.T) {
	if got := ExpectedScore(1000, 1000); got != 0.5 {
		t.Fatalf("equal ratings: %v", got)
	}
	hi, lo := ExpectedScore(1400, 1000), ExpectedScore(1000, 1400)
	if math.Abs(hi+lo-1) > 1e-9 {
		t.Fatalf("expectations must sum to 1: %v + %v", hi, lo)
	}
	if hi < 0.9 || hi > 0.92 {
		t.Fatalf("400 point gap ~0.909, got %v", hi)
	}
}

func TestKFactor(t *testing.T) {
	cases := []struct {
		games, diff int
		want        float64
	}{
		{0, 0, 48},
		{9, 0, 48},
		{10, 0, 32},
		{29, 0, 32},
		{30, 0, 25.6},
		{100, 0, 25.6},
		{15, 200, 32},
		{15, 201, 28.8},
		{15, -350, 28.8},
		{3, 500, 43.2},
	}
	for _, tc := range cases {
		if got := KFactor(tc.games, tc.diff); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("KFactor(%d,%d)=%v want %v", tc.games, tc.diff, got, tc.want)
		}
	}
}

func TestWinNeverDecreasesLossNeverIncreases(t *testing.T) {
	ratings := []int{100, 101, 450, 1000, 1500, 2200, 2999, 3000}
	games := []int{0, 5, 12, 40}
	for _, p := range ratings {
		for _, o := range ratings {
			for _, g := range games {
				w, wd := NewRating(p, o, Win, g)
				l, ld := NewRating(p, o, Loss, g)
				if wd < 0 || w < p {
					t.Fatalf("win decreased rating p=%d o=%d g=%d -> %d", p, o, g, w)
				}
				if ld > 0 || l > p {
					t.Fatalf("loss increased rating p=%d o=%d g=%d -> %d", p, o, g, l)
				}
				for _, r := range []int{w, l} {
					if r < domain.MinRating || r > domain.MaxRating {
						t.Fatalf("rating %d out of bounds", r)
					}
				}
			}
		}
	}
}

func TestClampAtBounds(t *testing.T) {
	if Clamp(50) != 100 || Clamp(3050) != 3000 || Clamp(1500) != 1500 {
		t.Fatalf("clamp: %d %d %d", Clamp(50), Clamp(3050), Clamp(1500))
	}
	// equal ratings, provisional K=48: a 24 point swing crosses each bound
	if r, d := NewRating(110, 110, Loss, 0); r != 100 || d != -10 {
		t.Fatalf("floor: %d %d", r, d)
	}
	if r, d := NewRating(2990, 2990, Win, 0); r != 3000 || d != 10 {
		t.Fatalf("ceiling: %d %d", r, d)
	}
}

func TestSettleSymmetricAtEqualStanding(t *testing.T) {
	for _, games := range []int{0, 15, 60} {
		out := Settle("m1",
			Side{PlayerID: "a@example.com", Rating: 1000, GamesPlayed: games},
			Side{PlayerID: "b@example.com", Rating: 1000, GamesPlayed: games},
			time.Unix(0, 0))
		if out.WinnerNew <= 1000 || out.LoserNew >= 1000 {
			t.Fatalf("games=%d: winner %d loser %d", games, out.WinnerNew, out.LoserNew)
		}
		if out.WinnerDelta != -out.LoserDelta {
			t.Fatalf("games=%d: asymmetric deltas %d / %d", games, out.WinnerDelta, out.LoserDelta)
		}
		h := out.History
		if h.WinnerOld != 1000 || h.LoserOld != 1000 || h.WinnerNew != out.WinnerNew || h.LoserNew != out.LoserNew {
			t.Fatalf("history mismatch: %+v", h)
		}
	}
	first := Settle("m", Side{Rating: 1000}, Side{Rating: 1000}, time.Time{})
	if first.WinnerDelta != 24 {
		t.Fatalf("provisional K=48 -> +24, got %d", first.WinnerDelta)
	}
}

func TestSettleUsesStartingRatings(t *testing.T) {
	out := Settle("m", Side{PlayerID: "w", Rating: 1200, GamesPlayed: 20}, Side{PlayerID: "l", Rating: 1100, GamesPlayed: 20}, time.Time{})
	wantL, _ := NewRating(1100, 1200, Loss, 20)
	if out.LoserNew != wantL {
		t.Fatalf("loser must be computed against the winner's pre-match rating: %d vs %d", out.LoserNew, wantL)
	}
}

func TestSideFromNil(t *testing.T) {
	s := SideFrom("p", nil)
	if s.Rating != domain.DefaultRating || s.GamesPlayed != 0 {
		t.Fatalf("fresh side: %+v", s)
	}
}
