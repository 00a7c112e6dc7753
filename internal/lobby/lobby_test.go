package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
	"github.com/park285/netplay-matchmaker/internal/match"
	"github.com/park285/netplay-matchmaker/internal/ratingstore"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []matchproto.Envelope
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(e matchproto.Envelope) error {
	f.mu.Lock()
	f.frames = append(f.frames, e)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.frames {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(typ string) (matchproto.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Type == typ {
			return f.frames[i], true
		}
	}
	return matchproto.Envelope{}, false
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	l     *Lobby
	store ratingstore.Store
	clock *clock
}

func newTestLobby(t *testing.T, store ratingstore.Store) *testEnv {
	t.Helper()
	if store == nil {
		store = ratingstore.NewMemory()
	}
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	l := New(Options{
		Store:   store,
		Now:     clk.Now,
		Shuffle: func(a, b match.Participant) (match.Participant, match.Participant) { return a, b },
		NewID:   func() string { return fmt.Sprintf("m-%d", seq.Add(1)) },
	})
	return &testEnv{l: l, store: store, clock: clk}
}

func (e *testEnv) connect(t *testing.T, id, playerID string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	if err := e.l.Connect(c, playerID, ""); err != nil {
		t.Fatalf("Connect(%s): %v", id, err)
	}
	return c
}

func (e *testEnv) send(t *testing.T, connID string, in matchproto.Inbound) {
	t.Helper()
	if err := e.l.Handle(context.Background(), connID, in); err != nil {
		t.Fatalf("%s %s: %v", connID, in.Kind(), err)
	}
}

func (e *testEnv) search(t *testing.T, connID string) {
	t.Helper()
	e.send(t, connID, matchproto.Search{Region: "eu", Connection: "wired"})
}

// pairAndStrike brings c0/c1 into an Active game 1 on Final Destination.
func (e *testEnv) pairAndStrike(t *testing.T) {
	t.Helper()
	e.search(t, "c0")
	e.search(t, "c1")
	e.send(t, "c0", matchproto.SelectCharacter{Character: "Mario"})
	e.send(t, "c1", matchproto.SelectCharacter{Character: "Luigi"})
	e.send(t, "c0", matchproto.BanStage{Stage: "Battlefield"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Small Battlefield"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Pokemon Stadium 2"})
	e.send(t, "c0", matchproto.PickStage{Stage: "Final Destination"})
}

func win(idx int) matchproto.GameResult { return matchproto.GameResult{Winner: &idx} }

func TestEndToEndFirstGame(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	c1 := e.connect(t, "c1", "")
	if c0.count(matchproto.TypeConnected) != 1 {
		t.Fatalf("missing connected frame")
	}

	e.search(t, "c0")
	e.search(t, "c1")
	if s := e.l.Stats(); s.LiveMatches != 1 || s.Queued != 0 {
		t.Fatalf("expected one live match and empty queue: %+v", s)
	}
	env, ok := c1.last(matchproto.TypeMatch)
	if !ok {
		t.Fatalf("c1 did not receive match frame")
	}
	md := env.Data.(matchproto.MatchData)
	if md.PlayerIndex != 1 || md.Opponent.ConnectionID != "c0" || md.State.Phase != string(match.PhaseCharacterSelection) {
		t.Fatalf("unexpected match frame %+v", md)
	}

	e.send(t, "c0", matchproto.SelectCharacter{Character: "Mario"})
	e.send(t, "c1", matchproto.SelectCharacter{Character: "Luigi"})
	m, _ := e.l.MatchOf("c0")
	if m.Phase != match.PhaseStageStriking || m.Stage.TurnPlayerIndex != 0 || m.Stage.BanCreditsRemaining != 1 || len(m.Stage.Available) != 5 {
		t.Fatalf("unexpected striking state: %s %+v", m.Phase, m.Stage)
	}

	e.send(t, "c0", matchproto.BanStage{Stage: "Battlefield"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Small Battlefield"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Pokemon Stadium 2"})
	e.send(t, "c0", matchproto.PickStage{Stage: "Final Destination"})
	m, _ = e.l.MatchOf("c0")
	if m.Phase != match.PhaseActive || m.SelectedStage != "Final Destination" {
		t.Fatalf("expected Active on Final Destination: %s %q", m.Phase, m.SelectedStage)
	}

	e.send(t, "c0", win(0))
	if _, ok := c1.last(matchproto.TypeGameResultPending); !ok {
		t.Fatalf("pending confirmation not broadcast")
	}
	e.send(t, "c1", win(0))
	m, _ = e.l.MatchOf("c1")
	if m.Scores != [2]int{1, 0} || m.Phase != match.PhaseStageStriking {
		t.Fatalf("score %v phase %s", m.Scores, m.Phase)
	}
	if len(m.Stage.Available) != 7 || m.Stage.TurnPlayerIndex != 0 || m.Stage.BanCreditsRemaining != 2 {
		t.Fatalf("game 2 striking: %+v", m.Stage)
	}

	// both participants saw the same final state
	s0, _ := c0.last(matchproto.TypeMatchState)
	s1, _ := c1.last(matchproto.TypeMatchState)
	st0, st1 := s0.Data.(matchproto.StateData).State, s1.Data.(matchproto.StateData).State
	if st0.Scores != st1.Scores || st0.Phase != st1.Phase || len(st0.Stage.Available) != len(st1.Stage.Available) {
		t.Fatalf("participants diverged: %+v vs %+v", st0, st1)
	}
}

func TestRatedMatchSettlesSymmetricDeltas(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "alice@example.com")
	c1 := e.connect(t, "c1", "bob@example.com")
	e.send(t, "c0", matchproto.Search{Region: "eu", Connection: "wired"})
	e.send(t, "c1", matchproto.Search{Region: "eu", Connection: "wired", Alias: "Bob"})
	e.send(t, "c0", matchproto.SelectCharacter{Character: "Mario"})
	e.send(t, "c1", matchproto.SelectCharacter{Character: "Luigi"})
	e.send(t, "c0", matchproto.BanStage{Stage: "Battlefield"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Small Battlefield"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Pokemon Stadium 2"})
	e.send(t, "c0", matchproto.PickStage{Stage: "Final Destination"})
	e.send(t, "c0", win(1))
	e.send(t, "c1", win(1))
	// game 2: player 1 won, bans two, player 0 picks
	e.send(t, "c1", matchproto.BanStage{Stage: "Smashville"})
	e.send(t, "c1", matchproto.BanStage{Stage: "Town and City"})
	e.send(t, "c0", matchproto.PickStage{Stage: "Battlefield"})
	e.send(t, "c0", win(1))
	e.send(t, "c1", win(1))

	env, ok := c0.last(matchproto.TypeMatchComplete)
	if !ok {
		t.Fatalf("match_complete not sent")
	}
	done := env.Data.(matchproto.MatchCompleteData)
	if done.Winner != 1 || done.Scores != [2]int{0, 2} || !done.Rated {
		t.Fatalf("unexpected completion %+v", done)
	}
	if _, ok := c1.last(matchproto.TypeMatchComplete); !ok {
		t.Fatalf("winner did not get match_complete")
	}
	if e.l.Stats().LiveMatches != 0 {
		t.Fatalf("completed match still live")
	}

	e.l.Wait()
	ctx := context.Background()
	bob, _ := e.store.GetRating(ctx, "bob@example.com")
	alice, _ := e.store.GetRating(ctx, "alice@example.com")
	if bob == nil || alice == nil {
		t.Fatalf("ratings not persisted")
	}
	if bob.Rating <= domain.DefaultRating || alice.Rating >= domain.DefaultRating {
		t.Fatalf("winner %d loser %d", bob.Rating, alice.Rating)
	}
	if bob.Rating-domain.DefaultRating != domain.DefaultRating-alice.Rating {
		t.Fatalf("deltas must be symmetric: %d vs %d", bob.Rating-domain.DefaultRating, alice.Rating-domain.DefaultRating)
	}
	if bob.Wins != 1 || bob.GamesPlayed != 1 || alice.Losses != 1 {
		t.Fatalf("counters: %+v %+v", bob, alice)
	}
	h, _ := e.store.History(ctx, "alice@example.com", 5)
	if len(h) != 1 || h[0].WinnerID != "bob@example.com" || h[0].WinnerOld != 1000 {
		t.Fatalf("history %+v", h)
	}

	// both identities are free to queue again
	e.search(t, "c0")
	e.search(t, "c1")
	if e.l.Stats().LiveMatches != 1 {
		t.Fatalf("players were not released")
	}
}

func TestUnratedMatchWritesNothing(t *testing.T) {
	e := newTestLobby(t, nil)
	e.connect(t, "c0", "alice@example.com")
	e.connect(t, "c1", "")
	e.pairAndStrike(t)
	for game := 0; game < 2; game++ {
		if game == 1 {
			e.send(t, "c0", matchproto.BanStage{Stage: "Smashville"})
			e.send(t, "c0", matchproto.BanStage{Stage: "Town and City"})
			e.send(t, "c1", matchproto.PickStage{Stage: "Battlefield"})
		}
		e.send(t, "c0", win(0))
		e.send(t, "c1", win(0))
	}
	e.l.Wait()
	if r, _ := e.store.GetRating(context.Background(), "alice@example.com"); r != nil {
		t.Fatalf("unrated match touched ratings: %+v", r)
	}
}

func TestSearchAliasIsNotAnIdentity(t *testing.T) {
	e := newTestLobby(t, nil)
	e.connect(t, "c0", "alice@example.com")
	c1 := e.connect(t, "c1", "")
	e.send(t, "c0", matchproto.Search{Region: "eu", Connection: "wired"})
	e.send(t, "c1", matchproto.Search{Region: "eu", Connection: "wired", Alias: "bob@example.com"})

	env, ok := c1.last(matchproto.TypeMatch)
	if !ok {
		t.Fatalf("no match frame")
	}
	md := env.Data.(matchproto.MatchData)
	if md.State.Rated {
		t.Fatalf("a self-reported alias made the match rated")
	}
	if p := md.State.Players[1]; p.PlayerID != "" || p.Alias != "bob@example.com" {
		t.Fatalf("player 1 on the wire: %+v", p)
	}
}

func TestDisconnectTearsDownWithoutRating(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "alice@example.com")
	e.connect(t, "c1", "bob@example.com")
	e.pairAndStrike(t)
	e.send(t, "c0", win(0))

	e.l.Disconnect("c1")

	reset, ok := c0.last(matchproto.TypeMatchReset)
	if !ok || reset.Data.(matchproto.MatchResetData).Reason != matchproto.ReasonDisconnect {
		t.Fatalf("survivor missing match_reset: %+v", reset)
	}
	if _, ok := c0.last(matchproto.TypeOpponentLeft); !ok {
		t.Fatalf("survivor missing opponent_left")
	}
	chat, ok := c0.last(matchproto.TypeChat)
	if !ok || !chat.Data.(matchproto.ChatData).System {
		t.Fatalf("system notice not relayed: %+v", chat)
	}
	if s := e.l.Stats(); s.LiveMatches != 0 || s.Connections != 1 {
		t.Fatalf("unexpected stats after disconnect: %+v", s)
	}
	e.l.Wait()
	for _, id := range []string{"alice@example.com", "bob@example.com"} {
		if r, _ := e.store.GetRating(context.Background(), id); r != nil {
			t.Fatalf("disconnect changed rating for %s", id)
		}
	}
	if err := e.l.Handle(context.Background(), "c0", matchproto.BanStage{Stage: "Smashville"}); !errors.Is(err, matchproto.ErrNoMatch) {
		t.Fatalf("survivor still bound: %v", err)
	}
	e.search(t, "c0")
	if e.l.Stats().Queued != 1 {
		t.Fatalf("survivor could not requeue")
	}
}

func TestLeaveMatch(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	c1 := e.connect(t, "c1", "")
	e.search(t, "c0")
	e.search(t, "c1")
	e.send(t, "c0", matchproto.LeaveMatch{})

	if c0.count(matchproto.TypeMatchReset) != 1 || c1.count(matchproto.TypeMatchReset) != 1 {
		t.Fatalf("both sides must get exactly one match_reset: %d %d", c0.count(matchproto.TypeMatchReset), c1.count(matchproto.TypeMatchReset))
	}
	if c1.count(matchproto.TypeOpponentLeft) != 1 || c0.count(matchproto.TypeOpponentLeft) != 0 {
		t.Fatalf("only the survivor gets opponent_left")
	}
	if e.l.Stats().LiveMatches != 0 {
		t.Fatalf("match not removed")
	}
}

func TestIllegalActionsReplyWithErrors(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	e.connect(t, "c1", "")

	err := e.l.Handle(context.Background(), "c0", matchproto.SelectCharacter{Character: "Mario"})
	if !errors.Is(err, matchproto.ErrNoMatch) {
		t.Fatalf("expected no_match, got %v", err)
	}
	env, _ := c0.last(matchproto.TypeError)
	if env.Data.(matchproto.ErrorData).Code != matchproto.CodeNoMatch {
		t.Fatalf("error frame %+v", env)
	}

	e.search(t, "c0")
	e.search(t, "c1")
	if err := e.l.Handle(context.Background(), "c0", matchproto.Search{}); !errors.Is(err, matchproto.ErrInMatch) {
		t.Fatalf("search inside a match: %v", err)
	}
	e.send(t, "c0", matchproto.SelectCharacter{Character: "Mario"})
	e.send(t, "c1", matchproto.SelectCharacter{Character: "Luigi"})

	before, _ := e.l.MatchOf("c0")
	err = e.l.Handle(context.Background(), "c1", matchproto.BanStage{Stage: "Battlefield"})
	if !errors.Is(err, match.ErrNotYourTurn) {
		t.Fatalf("expected not_your_turn, got %v", err)
	}
	after, _ := e.l.MatchOf("c0")
	if len(after.Stage.Banned) != len(before.Stage.Banned) || after.Stage.TurnPlayerIndex != before.Stage.TurnPlayerIndex {
		t.Fatalf("rejected action mutated the match")
	}

	if err := e.l.HandleFrame(context.Background(), "c0", []byte(`{"type":"warp"}`)); matchproto.CodeOf(err) != matchproto.CodeBadRequest {
		t.Fatalf("expected bad_request, got %v", err)
	}
	env, _ = c0.last(matchproto.TypeError)
	if env.Data.(matchproto.ErrorData).Code != matchproto.CodeBadRequest {
		t.Fatalf("bad request frame %+v", env)
	}
}

func TestResultConflictBroadcast(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	c1 := e.connect(t, "c1", "")
	e.pairAndStrike(t)
	e.send(t, "c0", win(0))
	e.send(t, "c1", win(1))
	for _, c := range []*fakeConn{c0, c1} {
		env, ok := c.last(matchproto.TypeGameResultConflict)
		if !ok {
			t.Fatalf("%s missing conflict", c.id)
		}
		if d := env.Data.(matchproto.GameResultConflictData); d.Claims != [2]int{0, 1} || d.State.Scores != [2]int{0, 0} {
			t.Fatalf("conflict frame %+v", d)
		}
	}
	m, _ := e.l.MatchOf("c0")
	if m.Phase != match.PhaseActive || m.Reports[0] != nil || m.Reports[1] != nil {
		t.Fatalf("conflict must keep Active and clear reports")
	}
}

func TestChatReachesObservers(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	c1 := e.connect(t, "c1", "")
	e.search(t, "c0")
	e.search(t, "c1")
	m, _ := e.l.MatchOf("c0")

	obs := &fakeConn{id: "obs"}
	if err := e.l.Connect(obs, "", m.ID); err != nil {
		t.Fatalf("observer connect: %v", err)
	}
	if _, ok := obs.last(matchproto.TypeMatchState); !ok {
		t.Fatalf("observer did not get a snapshot")
	}
	if err := e.l.Connect(&fakeConn{id: "lost"}, "", "m-404"); !errors.Is(err, matchproto.ErrNoMatch) {
		t.Fatalf("attach to unknown match: %v", err)
	}

	e.send(t, "c0", matchproto.Chat{MatchID: m.ID, Text: "gl hf"})
	e.send(t, "obs", matchproto.Chat{Text: "good luck both"})
	for _, c := range []*fakeConn{c0, c1, obs} {
		env, ok := c.last(matchproto.TypeChat)
		if !ok {
			t.Fatalf("%s missed chat", c.id)
		}
		if d := env.Data.(matchproto.ChatData); d.Text != "good luck both" || d.Sender != "obs" {
			t.Fatalf("%s chat frame %+v", c.id, d)
		}
	}
	if err := e.l.Handle(context.Background(), "c0", matchproto.Chat{MatchID: "other", Text: "x"}); !errors.Is(err, matchproto.ErrNoMatch) {
		t.Fatalf("chat to a foreign match: %v", err)
	}
	m, _ = e.l.MatchOf("c1")
	userLines := 0
	for _, line := range m.Chat {
		if !line.System {
			userLines++
		}
	}
	if userLines != 2 {
		t.Fatalf("chat log has %d user lines", userLines)
	}

	// observers see teardown too
	e.l.Disconnect("c0")
	if _, ok := obs.last(matchproto.TypeMatchReset); !ok {
		t.Fatalf("observer missed match_reset")
	}
}

func TestExpireIdle(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	e.connect(t, "c1", "")
	e.search(t, "c0")
	e.search(t, "c1")

	if n := e.l.ExpireIdle(e.clock.Now(), 0); n != 0 {
		t.Fatalf("zero timeout must be disabled")
	}
	e.clock.Advance(5 * time.Minute)
	if n := e.l.ExpireIdle(e.clock.Now(), 10*time.Minute); n != 0 {
		t.Fatalf("fresh match expired")
	}
	e.send(t, "c0", matchproto.SelectCharacter{Character: "Mario"})
	e.clock.Advance(9 * time.Minute)
	if n := e.l.ExpireIdle(e.clock.Now(), 10*time.Minute); n != 0 {
		t.Fatalf("activity did not reset idle clock")
	}
	e.clock.Advance(2 * time.Minute)
	if n := e.l.ExpireIdle(e.clock.Now(), 10*time.Minute); n != 1 {
		t.Fatalf("idle match not expired")
	}
	env, _ := c0.last(matchproto.TypeMatchReset)
	if env.Data.(matchproto.MatchResetData).Reason != matchproto.ReasonIdle {
		t.Fatalf("reset reason %+v", env)
	}
	if c0.count(matchproto.TypeOpponentLeft) != 0 {
		t.Fatalf("idle expiry has no leaver")
	}
}

func TestObserverChatDoesNotKeepMatchAlive(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "")
	e.connect(t, "c1", "")
	e.search(t, "c0")
	e.search(t, "c1")
	m, _ := e.l.MatchOf("c0")

	obs := &fakeConn{id: "obs"}
	if err := e.l.Connect(obs, "", m.ID); err != nil {
		t.Fatalf("observer connect: %v", err)
	}
	e.clock.Advance(50 * time.Second)
	e.send(t, "obs", matchproto.Chat{Text: "are you still playing?"})
	e.clock.Advance(50 * time.Second)

	if n := e.l.ExpireIdle(e.clock.Now(), time.Minute); n != 1 {
		t.Fatalf("observer chat kept an idle match alive: expired=%d", n)
	}
	env, ok := c0.last(matchproto.TypeMatchReset)
	if !ok || env.Data.(matchproto.MatchResetData).Reason != matchproto.ReasonIdle {
		t.Fatalf("reset frame %+v", env)
	}
}

func TestPlayerChatKeepsMatchAlive(t *testing.T) {
	e := newTestLobby(t, nil)
	e.connect(t, "c0", "")
	e.connect(t, "c1", "")
	e.search(t, "c0")
	e.search(t, "c1")

	e.clock.Advance(50 * time.Second)
	e.send(t, "c1", matchproto.Chat{Text: "brb"})
	e.clock.Advance(50 * time.Second)
	if n := e.l.ExpireIdle(e.clock.Now(), time.Minute); n != 0 {
		t.Fatalf("player chat did not reset the idle clock")
	}
}

func TestSweeperLifecycle(t *testing.T) {
	e := newTestLobby(t, nil)
	if _, err := NewSweeper(e.l, -time.Second, time.Second); err == nil {
		t.Fatalf("negative timeout must be rejected")
	}
	if s, err := NewSweeper(e.l, 0, time.Second); err != nil || s == nil {
		t.Fatalf("stats-only sweeper: %v", err)
	}
	s, err := NewSweeper(e.l, time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSweepExpiresIdleMatches(t *testing.T) {
	e := newTestLobby(t, nil)
	e.connect(t, "c0", "")
	e.connect(t, "c1", "")
	e.search(t, "c0")
	e.search(t, "c1")
	e.clock.Advance(2 * time.Minute)
	e.l.sweep(0)
	if e.l.Stats().LiveMatches != 1 {
		t.Fatalf("stats-only sweep expired a match")
	}
	e.l.sweep(time.Minute)
	if e.l.Stats().LiveMatches != 0 {
		t.Fatalf("sweep left an idle match alive")
	}
}

func TestStatsLongestWait(t *testing.T) {
	e := newTestLobby(t, nil)
	e.connect(t, "c0", "")
	e.connect(t, "c1", "")
	e.send(t, "c0", matchproto.Search{Region: "eu"})
	e.clock.Advance(30 * time.Second)
	e.send(t, "c1", matchproto.Search{Region: "eu"})
	if s := e.l.Stats(); s.Queued != 0 || s.LongestWait != 0 {
		t.Fatalf("paired searches still counted: %+v", s)
	}
	e.connect(t, "c2", "")
	e.send(t, "c2", matchproto.Search{Region: "na"})
	e.clock.Advance(45 * time.Second)
	if s := e.l.Stats(); s.Queued != 1 || s.LongestWait != 45*time.Second {
		t.Fatalf("stats %+v", s)
	}
}

func TestShutdownRefusesNewWork(t *testing.T) {
	e := newTestLobby(t, nil)
	c0 := e.connect(t, "c0", "alice@example.com")
	e.connect(t, "c1", "bob@example.com")
	e.connect(t, "c2", "")
	e.pairAndStrike(t)
	e.search(t, "c2")

	e.l.Shutdown()
	if s := e.l.Stats(); s.LiveMatches != 0 || s.Queued != 0 {
		t.Fatalf("shutdown left work behind: %+v", s)
	}
	env, _ := c0.last(matchproto.TypeMatchReset)
	if env.Data.(matchproto.MatchResetData).Reason != matchproto.ReasonShutdown {
		t.Fatalf("reset reason %+v", env)
	}
	if err := e.l.Connect(&fakeConn{id: "late"}, "", ""); !errors.Is(err, matchproto.ErrClosing) {
		t.Fatalf("connect after shutdown: %v", err)
	}
	if err := e.l.Handle(context.Background(), "c2", matchproto.Search{Region: "eu"}); !errors.Is(err, matchproto.ErrClosing) {
		t.Fatalf("search after shutdown: %v", err)
	}
	if err := e.l.Handle(context.Background(), "c0", matchproto.Search{Region: "eu"}); !errors.Is(err, matchproto.ErrClosing) {
		t.Fatalf("search after shutdown: %v", err)
	}
	if s := e.l.Stats(); s.LiveMatches != 0 || s.Queued != 0 {
		t.Fatalf("work started after shutdown: %+v", s)
	}
	if r, _ := e.store.GetRating(context.Background(), "alice@example.com"); r != nil {
		t.Fatalf("shutdown teardown touched ratings: %+v", r)
	}
}

type failingStore struct{ ratingstore.Store }

func (failingStore) GetRating(context.Context, string) (*domain.RatingRecord, error) {
	return nil, errors.New("db down")
}

func TestRatingFailureIsNotFatal(t *testing.T) {
	e := newTestLobby(t, failingStore{Store: ratingstore.NewMemory()})
	c0 := e.connect(t, "c0", "a@example.com")
	e.connect(t, "c1", "b@example.com")
	e.pairAndStrike(t)
	e.send(t, "c0", win(0))
	e.send(t, "c1", win(0))
	e.send(t, "c0", matchproto.BanStage{Stage: "Smashville"})
	e.send(t, "c0", matchproto.BanStage{Stage: "Town and City"})
	e.send(t, "c1", matchproto.PickStage{Stage: "Battlefield"})
	e.send(t, "c0", win(0))
	e.send(t, "c1", win(0))
	if _, ok := c0.last(matchproto.TypeMatchComplete); !ok {
		t.Fatalf("completion must not depend on the rating store")
	}
	e.l.Wait()
}

func TestConcurrentMatchesAreIndependent(t *testing.T) {
	e := newTestLobby(t, nil)
	const pairs = 16
	for i := 0; i < pairs; i++ {
		e.connect(t, fmt.Sprintf("a%d", i), "")
		e.connect(t, fmt.Sprintf("b%d", i), "")
		e.search(t, fmt.Sprintf("a%d", i))
		e.search(t, fmt.Sprintf("b%d", i))
	}
	if e.l.Stats().LiveMatches != pairs {
		t.Fatalf("expected %d matches, got %d", pairs, e.l.Stats().LiveMatches)
	}
	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_ = e.l.Handle(context.Background(), id, matchproto.SelectCharacter{Character: "Fox"})
			_ = e.l.Handle(context.Background(), id, matchproto.Chat{Text: "hi"})
		}(fmt.Sprintf("a%d", i))
		go func(id string) {
			defer wg.Done()
			_ = e.l.Handle(context.Background(), id, matchproto.SelectCharacter{Character: "Falco"})
			if id == "b0" {
				e.l.Disconnect(id)
			}
		}(fmt.Sprintf("b%d", i))
	}
	wg.Wait()
	for i := 1; i < pairs; i++ {
		m, ok := e.l.MatchOf(fmt.Sprintf("a%d", i))
		if !ok || m.Phase != match.PhaseStageStriking {
			t.Fatalf("match %d not in striking: %+v", i, m)
		}
	}
	if _, ok := e.l.MatchOf("a0"); ok {
		t.Fatalf("disconnected pair still live")
	}
	e.l.Shutdown()
	if e.l.Stats().LiveMatches != 0 {
		t.Fatalf("shutdown left live matches")
	}
}
