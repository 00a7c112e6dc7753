package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/netplay-matchmaker/internal/events"
	"github.com/park285/netplay-matchmaker/internal/match"
	"github.com/park285/netplay-matchmaker/internal/msgcat"
	"github.com/park285/netplay-matchmaker/internal/rating"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"go.uber.org/zap"
)

// teardownLocked ends a match without a result. leaver is the departing player
// index, or -1 when the server ends the match. No rating effect.
func (l *Lobby) teardownLocked(lm *liveMatch, reason string, leaver int) {
	m := lm.m
	lm.closed = true

	l.relay.Publish(m.ID, matchproto.New(matchproto.TypeMatchReset, matchproto.MatchResetData{MatchID: m.ID, Reason: reason}))
	if leaver >= 0 {
		survivor := m.Participants[match.Opponent(leaver)]
		l.sendTo(survivor.ConnID, matchproto.New(matchproto.TypeOpponentLeft, matchproto.OpponentLeftData{MatchID: m.ID, Reason: reason}))
	}
	l.systemChatLocked(lm, noticeKey(reason), map[string]any{
		"Player":  leaverName(m, leaver),
		"MatchID": m.ID,
		"Idle":    l.now().Sub(m.UpdatedAt).Round(time.Second).String(),
	}, "The match has ended.")

	subs := l.release(m)
	l.events.Publish(events.Event{
		Type:    events.TypeMatchAborted,
		MatchID: m.ID,
		At:      l.now(),
		Payload: map[string]any{"reason": reason, "leaver": leaver, "game": m.GameNumber},
	})
	l.log.Info("match_teardown",
		zap.String("match_id", m.ID),
		zap.String("reason", reason),
		zap.Int("leaver", leaver),
		zap.String("phase", string(m.Phase)),
		zap.Int("subscribers", subs),
	)
}

// completeLocked finishes a decided match and hands rating settlement to a
// background goroutine so clients see the result without waiting on storage.
func (l *Lobby) completeLocked(lm *liveMatch, winner int) {
	m := lm.m
	lm.closed = true
	st := toState(m)
	l.relay.Publish(m.ID, matchproto.New(matchproto.TypeMatchComplete, matchproto.MatchCompleteData{
		Winner: winner,
		Scores: m.Scores,
		Rated:  m.Rated,
		State:  st,
	}))
	l.systemChatLocked(lm, msgcat.KeyMatchWon, map[string]any{
		"Player": displayName(m.Participants[winner]),
		"Score":  fmt.Sprintf("%d-%d", m.Scores[0], m.Scores[1]),
	}, "Match over.")
	subs := l.release(m)

	l.events.Publish(events.Event{
		Type:    events.TypeMatchCompleted,
		MatchID: m.ID,
		At:      l.now(),
		Payload: map[string]any{"winner": winner, "scores": m.Scores, "rated": m.Rated, "characters": m.Characters},
	})
	l.log.Info("match_complete",
		zap.String("match_id", m.ID),
		zap.Int("winner", winner),
		zap.Ints("scores", m.Scores[:]),
		zap.Bool("rated", m.Rated),
		zap.Int("subscribers", subs),
	)

	if !m.Rated {
		return
	}
	w := m.Participants[winner].PlayerID
	lo := m.Participants[match.Opponent(winner)].PlayerID
	l.settling.Add(1)
	go func() {
		defer l.settling.Done()
		l.settle(m.ID, w, lo)
	}()
}

// release drops the match from the live set and frees both participants. It
// returns how many connections were still subscribed to the match.
func (l *Lobby) release(m *match.Match) int {
	subs := l.relay.Close(m.ID)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.matches, m.ID)
	for _, pt := range m.Participants {
		if c := l.clients[pt.ConnID]; c != nil && c.matchID == m.ID {
			c.matchID = ""
		}
	}
	for _, c := range l.clients {
		if c.chatMatchID == m.ID {
			c.chatMatchID = ""
		}
	}
	return len(subs)
}

// settle reads both ratings, applies the rating engine and writes the results.
// Failures are logged and never reach the match.
func (l *Lobby) settle(matchID, winnerID, loserID string) {
	l.settleMu.Lock()
	defer l.settleMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), l.settleTimeout)
	defer cancel()

	wr, err := l.store.GetRating(ctx, winnerID)
	if err != nil {
		l.log.Error("rating_load_error", zap.String("match_id", matchID), zap.String("player_id", winnerID), zap.Error(err))
		return
	}
	lr, err := l.store.GetRating(ctx, loserID)
	if err != nil {
		l.log.Error("rating_load_error", zap.String("match_id", matchID), zap.String("player_id", loserID), zap.Error(err))
		return
	}
	out := rating.Settle(matchID, rating.SideFrom(winnerID, wr), rating.SideFrom(loserID, lr), l.now())

	if err := l.store.UpsertRating(ctx, winnerID, out.WinnerNew, 1, 1, 0); err != nil {
		l.log.Error("rating_persist_error", zap.String("match_id", matchID), zap.String("player_id", winnerID), zap.Error(err))
	}
	if err := l.store.UpsertRating(ctx, loserID, out.LoserNew, 1, 0, 1); err != nil {
		l.log.Error("rating_persist_error", zap.String("match_id", matchID), zap.String("player_id", loserID), zap.Error(err))
	}
	if err := l.store.AppendRatingHistory(ctx, out.History); err != nil {
		l.log.Error("rating_history_error", zap.String("match_id", matchID), zap.Error(err))
	}
	l.events.Publish(events.Event{
		Type:    events.TypeRatingChanged,
		MatchID: matchID,
		At:      out.History.CreatedAt,
		Payload: map[string]any{
			"winnerId": winnerID, "winnerOld": out.History.WinnerOld, "winnerNew": out.WinnerNew,
			"loserId": loserID, "loserOld": out.History.LoserOld, "loserNew": out.LoserNew,
		},
	})
	l.log.Info("rating_settled",
		zap.String("match_id", matchID),
		zap.String("winner_id", winnerID),
		zap.Int("winner_delta", out.WinnerDelta),
		zap.String("loser_id", loserID),
		zap.Int("loser_delta", out.LoserDelta),
	)
}

func noticeKey(reason string) string {
	switch reason {
	case matchproto.ReasonLeft:
		return msgcat.KeyOpponentLeft
	case matchproto.ReasonIdle:
		return msgcat.KeyIdleExpired
	case matchproto.ReasonShutdown:
		return msgcat.KeyShutdown
	default:
		return msgcat.KeyOpponentDisconnected
	}
}

func leaverName(m *match.Match, leaver int) string {
	if leaver < 0 {
		return "server"
	}
	return displayName(m.Participants[leaver])
}
