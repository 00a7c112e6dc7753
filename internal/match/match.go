// Package match implements the best-of set state machine: character selection,
// stage striking, result reporting and completion.
package match

import (
	"crypto/rand"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
	"github.com/park285/netplay-matchmaker/internal/ruleset"
)

// New creates a match in CharacterSelection with p0/p1 in the given slots.
func New(id string, p0, p1 Participant, prefs domain.Preferences, rules *ruleset.Ruleset, now time.Time) *Match {
	if rules == nil {
		rules = ruleset.Default()
	}
	if now.IsZero() {
		now = time.Now()
	}
	return &Match{
		ID:           id,
		Participants: [2]Participant{p0, p1},
		Phase:        PhaseCharacterSelection,
		GameNumber:   1,
		Rated:        p0.PlayerID != "" && p1.PlayerID != "" && p0.PlayerID != p1.PlayerID,
		Prefs:        prefs,
		CreatedAt:    now,
		UpdatedAt:    now,
		rules:        rules,
	}
}

// Shuffle orders two participants randomly so arrival order carries no advantage.
func Shuffle(a, b Participant) (Participant, Participant) {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 1 {
		return b, a
	}
	return a, b
}

// Index returns the player index bound to connID.
func (m *Match) Index(connID string) (int, bool) {
	for i, p := range m.Participants {
		if p.ConnID == connID {
			return i, true
		}
	}
	return -1, false
}

// Opponent returns the other slot.
func Opponent(idx int) int { return 1 - idx }

func (m *Match) Rules() *ruleset.Ruleset { return m.rules }

func (m *Match) participant(connID string) (int, error) {
	if m.Phase == PhaseCompleted {
		return -1, ErrMatchOver
	}
	idx, ok := m.Index(connID)
	if !ok {
		return -1, ErrNotParticipant
	}
	return idx, nil
}

// SelectCharacter records connID's pick, overwriting an earlier one. It reports
// whether the pick moved the match into StageStriking.
func (m *Match) SelectCharacter(connID, character string, now time.Time) (bool, error) {
	idx, err := m.participant(connID)
	if err != nil {
		return false, err
	}
	if m.Phase != PhaseCharacterSelection {
		return false, ErrWrongPhase
	}
	name, ok := m.rules.Character(character)
	if !ok {
		return false, ErrUnknownCharacter
	}
	m.Characters[idx] = name
	m.UpdatedAt = now
	if m.Characters[0] == "" || m.Characters[1] == "" {
		return false, nil
	}
	m.beginStriking()
	return true, nil
}

func (m *Match) beginStriking() {
	plan := m.rules.PlanFor(m.GameNumber, m.lastWinner)
	first := plan.Steps[0]
	m.Stage = StageState{
		TurnPlayerIndex:     first.Player,
		BanCreditsRemaining: first.Bans,
		Available:           plan.Pool,
		Banned:              []string{},
		pending:             append([]ruleset.StrikeStep(nil), plan.Steps[1:]...),
		picker:              plan.Picker,
	}
	m.SelectedStage = ""
	m.Phase = PhaseStageStriking
}

// BanStage strikes a stage for the player whose turn it is.
func (m *Match) BanStage(connID, stage string, now time.Time) error {
	if _, err := m.strikingTurn(connID); err != nil {
		return err
	}
	if m.Stage.BanCreditsRemaining <= 0 {
		return ErrNoBanCredits
	}
	i := indexFold(m.Stage.Available, stage)
	if i < 0 {
		return ErrStageUnavailable
	}
	s := m.Stage.Available[i]
	m.Stage.Available = append(m.Stage.Available[:i:i], m.Stage.Available[i+1:]...)
	m.Stage.Banned = append(m.Stage.Banned, s)
	m.Stage.BanCreditsRemaining--
	if m.Stage.BanCreditsRemaining == 0 {
		if len(m.Stage.pending) > 0 {
			next := m.Stage.pending[0]
			m.Stage.pending = m.Stage.pending[1:]
			m.Stage.TurnPlayerIndex = next.Player
			m.Stage.BanCreditsRemaining = next.Bans
		} else {
			m.Stage.TurnPlayerIndex = m.Stage.picker
		}
	}
	m.UpdatedAt = now
	return nil
}

// PickStage selects the stage for the current game once all bans are done.
func (m *Match) PickStage(connID, stage string, now time.Time) error {
	if _, err := m.strikingTurn(connID); err != nil {
		return err
	}
	if m.Stage.BanCreditsRemaining > 0 {
		return ErrBansRemaining
	}
	i := indexFold(m.Stage.Available, stage)
	if i < 0 {
		return ErrStageUnavailable
	}
	m.SelectedStage = m.Stage.Available[i]
	m.Reports = [2]*int{}
	m.Phase = PhaseActive
	m.UpdatedAt = now
	return nil
}

func (m *Match) strikingTurn(connID string) (int, error) {
	idx, err := m.participant(connID)
	if err != nil {
		return -1, err
	}
	if m.Phase != PhaseStageStriking {
		return -1, ErrWrongPhase
	}
	if idx != m.Stage.TurnPlayerIndex {
		return -1, ErrNotYourTurn
	}
	return idx, nil
}

// ReportResult stores connID's claim for the current game and resolves it when
// both claims are in.
func (m *Match) ReportResult(connID string, winner int, now time.Time) (Resolution, error) {
	idx, err := m.participant(connID)
	if err != nil {
		return Resolution{}, err
	}
	if m.Phase != PhaseActive {
		return Resolution{}, ErrWrongPhase
	}
	if winner != 0 && winner != 1 {
		return Resolution{}, ErrInvalidWinner
	}
	claim := winner
	m.Reports[idx] = &claim
	m.UpdatedAt = now
	res := Resolution{Reporter: idx, Claimed: winner}

	other := m.Reports[Opponent(idx)]
	if other == nil {
		res.Kind = ResultPending
		return res, nil
	}
	res.Claims = [2]int{*m.Reports[0], *m.Reports[1]}
	m.Reports = [2]*int{}
	if res.Claims[0] != res.Claims[1] {
		res.Kind = ResultConflict
		return res, nil
	}

	m.Scores[winner]++
	m.lastWinner = winner
	res.Winner = winner
	if m.Scores[winner] >= m.rules.WinsNeeded() {
		m.Phase = PhaseCompleted
		res.Kind = ResultMatchWon
		return res, nil
	}
	m.GameNumber++
	m.beginStriking()
	res.Kind = ResultGameWon
	return res, nil
}

// AppendChat adds a line to the chat log and returns it. Only a participant's
// line counts as activity; system notices and chat-only observers leave
// UpdatedAt alone.
func (m *Match) AppendChat(sender, text string, system bool, now time.Time) ChatEntry {
	e := ChatEntry{Sender: sender, Text: text, At: now, System: system}
	m.Chat = append(m.Chat, e)
	if _, ok := m.Index(sender); ok && !system {
		m.UpdatedAt = now
	}
	return e
}

// Winner returns the set winner once the match is completed.
func (m *Match) Winner() (int, bool) {
	if m.Phase != PhaseCompleted {
		return -1, false
	}
	if m.Scores[0] > m.Scores[1] {
		return 0, true
	}
	return 1, true
}

// Clone returns a deep copy safe to read outside the match lock.
func (m *Match) Clone() *Match {
	c := *m
	c.Stage.Available = slices.Clone(m.Stage.Available)
	c.Stage.Banned = slices.Clone(m.Stage.Banned)
	c.Stage.pending = slices.Clone(m.Stage.pending)
	c.Chat = slices.Clone(m.Chat)
	for i, r := range m.Reports {
		if r != nil {
			v := *r
			c.Reports[i] = &v
		}
	}
	return &c
}

func indexFold(list []string, name string) int {
	name = strings.TrimSpace(name)
	for i, s := range list {
		if s == name {
			return i
		}
	}
	for i, s := range list {
		if strings.EqualFold(s, name) {
			return i
		}
	}
	return -1
}
