package lobby

import (
	"slices"

	"github.com/park285/netplay-matchmaker/internal/match"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
)

// toState builds the shared snapshot. Slices are copied so the frame stays
// stable after the match lock is released.
func toState(m *match.Match) matchproto.State {
	st := matchproto.State{
		MatchID:    m.ID,
		Phase:      string(m.Phase),
		GameNumber: m.GameNumber,
		Scores:     m.Scores,
		Characters: m.Characters,
		Stage: matchproto.StageState{
			TurnPlayerIndex:     m.Stage.TurnPlayerIndex,
			BanCreditsRemaining: m.Stage.BanCreditsRemaining,
			Available:           nonNil(slices.Clone(m.Stage.Available)),
			Banned:              nonNil(slices.Clone(m.Stage.Banned)),
		},
		SelectedStage: m.SelectedStage,
		Rated:         m.Rated,
		Region:        m.Prefs.Region,
		Rules: matchproto.Rules{
			StockCount:          m.Prefs.Rules.StockCount,
			TimeLimitMinutes:    m.Prefs.Rules.TimeLimitMinutes,
			ItemsEnabled:        m.Prefs.Rules.ItemsEnabled,
			StageHazardsEnabled: m.Prefs.Rules.StageHazardsEnabled,
		},
	}
	for i, r := range m.Reports {
		if r != nil {
			v := *r
			st.PendingReports[i] = &v
		}
	}
	for i, p := range m.Participants {
		st.Players[i] = toPlayer(p)
	}
	return st
}

func toPlayer(p match.Participant) matchproto.Player {
	return matchproto.Player{ConnectionID: p.ConnID, PlayerID: p.PlayerID, Alias: p.Alias}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
