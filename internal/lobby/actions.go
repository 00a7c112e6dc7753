package lobby

import (
	"fmt"

	"github.com/park285/netplay-matchmaker/internal/domain"
	"github.com/park285/netplay-matchmaker/internal/events"
	"github.com/park285/netplay-matchmaker/internal/match"
	"github.com/park285/netplay-matchmaker/internal/msgcat"
	"github.com/park285/netplay-matchmaker/internal/queue"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"go.uber.org/zap"
)

func (l *Lobby) search(connID string, s matchproto.Search) error {
	l.mu.Lock()
	c := l.clients[connID]
	if c == nil {
		l.mu.Unlock()
		return matchproto.BadRequest("unknown connection")
	}
	if c.matchID != "" {
		l.mu.Unlock()
		return matchproto.ErrInMatch
	}
	if l.closing {
		l.mu.Unlock()
		return matchproto.ErrClosing
	}
	if s.Alias != "" {
		c.alias = s.Alias
	}
	prefs := domain.Preferences{
		Region:     s.Region,
		Connection: domain.ConnectionQuality(s.Connection),
		Rules: domain.Rules{
			StockCount:          s.Rules.StockCount,
			TimeLimitMinutes:    s.Rules.TimeLimitMinutes,
			ItemsEnabled:        s.Rules.ItemsEnabled,
			StageHazardsEnabled: s.Rules.StageHazardsEnabled,
		},
	}
	replaced := l.queue.Contains(connID)
	pairs := l.queue.Enqueue(queue.Entry{
		Identity:   connID,
		PlayerID:   c.playerID,
		Alias:      c.alias,
		Prefs:      prefs,
		RatingHint: s.RatingHint,
		EnqueuedAt: l.now(),
	})
	l.log.Info("queue_enqueue", zap.String("conn_id", connID), zap.String("region", prefs.Region), zap.Bool("replaced", replaced), zap.Int("queued", l.queue.Len()), zap.Int("paired", len(pairs)))

	created := make([]*liveMatch, 0, len(pairs))
	for _, p := range pairs {
		created = append(created, l.createLocked(p))
	}
	l.mu.Unlock()

	// each created match is still locked; announce, then release
	for _, lm := range created {
		l.announceLocked(lm)
		lm.mu.Unlock()
	}
	return nil
}

// createLocked builds and binds a match for p. Caller holds l.mu; the returned
// match is locked so nothing can act on it before it is announced.
func (l *Lobby) createLocked(p queue.Pair) *liveMatch {
	a := match.Participant{ConnID: p.A.Identity, PlayerID: p.A.PlayerID, Alias: p.A.Alias}
	b := match.Participant{ConnID: p.B.Identity, PlayerID: p.B.PlayerID, Alias: p.B.Alias}
	p0, p1 := l.shuffle(a, b)
	m := match.New(l.newID(), p0, p1, p.A.Prefs, l.rules, l.now())
	lm := &liveMatch{m: m}
	lm.mu.Lock()
	l.matches[m.ID] = lm
	for _, pt := range m.Participants {
		if c := l.clients[pt.ConnID]; c != nil {
			c.matchID = m.ID
			l.relay.Subscribe(m.ID, c.conn)
		}
	}
	l.log.Info("match_create",
		zap.String("match_id", m.ID),
		zap.String("p0", p0.ConnID),
		zap.String("p1", p1.ConnID),
		zap.Bool("rated", m.Rated),
		zap.Int("tier", int(queue.TierOf(p.A.Prefs, p.B.Prefs))),
	)
	return lm
}

func (l *Lobby) announceLocked(lm *liveMatch) {
	m := lm.m
	st := toState(m)
	for i, pt := range m.Participants {
		l.sendTo(pt.ConnID, matchproto.New(matchproto.TypeMatch, matchproto.MatchData{
			MatchID:     m.ID,
			PlayerIndex: i,
			Opponent:    toPlayer(m.Participants[match.Opponent(i)]),
			State:       st,
		}))
	}
	l.systemChatLocked(lm, msgcat.KeyMatchFound, map[string]any{"MatchID": m.ID}, "Match found.")
	l.events.Publish(events.Event{
		Type:    events.TypeMatchCreated,
		MatchID: m.ID,
		At:      m.CreatedAt,
		Payload: map[string]any{"rated": m.Rated, "region": m.Prefs.Region},
	})
}

func (l *Lobby) cancel(connID string) error {
	l.mu.Lock()
	removed := l.queue.Cancel(connID)
	l.mu.Unlock()
	if removed {
		l.log.Info("queue_cancel", zap.String("conn_id", connID))
	}
	return nil
}

// boundMatch returns the live match connID participates in.
func (l *Lobby) boundMatch(connID string) (*liveMatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.clients[connID]
	if c == nil || c.matchID == "" {
		return nil, matchproto.ErrNoMatch
	}
	lm := l.matches[c.matchID]
	if lm == nil {
		return nil, matchproto.ErrNoMatch
	}
	return lm, nil
}

func (l *Lobby) matchAction(connID string, in matchproto.Inbound) error {
	lm, err := l.boundMatch(connID)
	if err != nil {
		return err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return matchproto.ErrNoMatch
	}
	m := lm.m
	idx, ok := m.Index(connID)
	if !ok {
		return match.ErrNotParticipant
	}
	now := l.now()

	switch a := in.(type) {
	case matchproto.SelectCharacter:
		if _, err := m.SelectCharacter(connID, a.Character, now); err != nil {
			return err
		}
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeCharacterSelectionUpdate, matchproto.CharacterSelectionData{
			PlayerIndex: idx,
			Character:   m.Characters[idx],
			State:       toState(m),
		}))
	case matchproto.BanStage:
		before := len(m.Stage.Banned)
		if err := m.BanStage(connID, a.Stage, now); err != nil {
			return err
		}
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeStageStrikingUpdate, matchproto.StageStrikingData{
			Action:      matchproto.ActionBan,
			PlayerIndex: idx,
			Stage:       m.Stage.Banned[before],
			State:       toState(m),
		}))
	case matchproto.PickStage:
		if err := m.PickStage(connID, a.Stage, now); err != nil {
			return err
		}
		st := toState(m)
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeStageStrikingUpdate, matchproto.StageStrikingData{
			Action:      matchproto.ActionPick,
			PlayerIndex: idx,
			Stage:       m.SelectedStage,
			State:       st,
		}))
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeMatchState, matchproto.StateData{State: st}))
	case matchproto.GameResult:
		res, err := m.ReportResult(connID, *a.Winner, now)
		if err != nil {
			return err
		}
		l.resolveLocked(lm, res)
	case matchproto.LeaveMatch:
		l.relay.Unsubscribe(m.ID, connID)
		// the leaver still gets the reset frame even though it left the topic
		l.sendTo(connID, matchproto.New(matchproto.TypeMatchReset, matchproto.MatchResetData{MatchID: m.ID, Reason: matchproto.ReasonLeft}))
		l.teardownLocked(lm, matchproto.ReasonLeft, idx)
	default:
		return matchproto.BadRequest(fmt.Sprintf("unsupported match action %q", in.Kind()))
	}
	return nil
}

func (l *Lobby) resolveLocked(lm *liveMatch, res match.Resolution) {
	m := lm.m
	switch res.Kind {
	case match.ResultPending:
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeGameResultPending, matchproto.GameResultPendingData{
			Reporter: res.Reporter,
			Winner:   res.Claimed,
			State:    toState(m),
		}))
	case match.ResultConflict:
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeGameResultConflict, matchproto.GameResultConflictData{
			Claims: res.Claims,
			State:  toState(m),
		}))
		l.systemChatLocked(lm, msgcat.KeyReportConflict, nil, "Result reports disagree.")
		l.log.Info("match_result_conflict", zap.String("match_id", m.ID), zap.Int("game", m.GameNumber))
	case match.ResultGameWon:
		l.relay.Publish(m.ID, matchproto.New(matchproto.TypeMatchState, matchproto.StateData{State: toState(m)}))
		l.systemChatLocked(lm, msgcat.KeyGameWon, map[string]any{
			"Player": displayName(m.Participants[res.Winner]),
			"Game":   m.GameNumber - 1,
			"Score":  fmt.Sprintf("%d-%d", m.Scores[0], m.Scores[1]),
		}, "Game over.")
	case match.ResultMatchWon:
		l.completeLocked(lm, res.Winner)
	}
}

func (l *Lobby) chat(connID string, msg matchproto.Chat) error {
	l.mu.Lock()
	c := l.clients[connID]
	if c == nil {
		l.mu.Unlock()
		return matchproto.ErrNoMatch
	}
	matchID := c.matchID
	if matchID == "" {
		matchID = c.chatMatchID
	}
	if matchID == "" || (msg.MatchID != "" && msg.MatchID != matchID) {
		l.mu.Unlock()
		return matchproto.ErrNoMatch
	}
	lm := l.matches[matchID]
	l.mu.Unlock()
	if lm == nil {
		return matchproto.ErrNoMatch
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return matchproto.ErrNoMatch
	}
	e := lm.m.AppendChat(connID, msg.Text, false, l.now())
	l.relay.Publish(matchID, matchproto.New(matchproto.TypeChat, matchproto.ChatData{
		MatchID: matchID,
		Sender:  e.Sender,
		Text:    e.Text,
		At:      e.At,
	}))
	return nil
}

// systemChatLocked appends a rendered notice to the chat log and relays it.
func (l *Lobby) systemChatLocked(lm *liveMatch, key string, data map[string]any, fallback string) {
	text := l.catalog.Text(key, data, fallback)
	e := lm.m.AppendChat("", text, true, l.now())
	l.relay.Publish(lm.m.ID, matchproto.New(matchproto.TypeChat, matchproto.ChatData{
		MatchID: lm.m.ID,
		Text:    e.Text,
		At:      e.At,
		System:  true,
	}))
}

func (l *Lobby) sendTo(connID string, env matchproto.Envelope) {
	l.mu.Lock()
	c := l.clients[connID]
	l.mu.Unlock()
	if c != nil {
		_ = c.conn.Send(env)
	}
}

func displayName(p match.Participant) string {
	switch {
	case p.Alias != "":
		return p.Alias
	case p.PlayerID != "":
		return p.PlayerID
	}
	return p.ConnID
}
