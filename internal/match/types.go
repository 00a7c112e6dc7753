package match

import (
	"time"

	"github.com/park285/netplay-matchmaker/internal/domain"
	"github.com/park285/netplay-matchmaker/internal/ruleset"
)

// Phase is the match lifecycle state.
type Phase string

const (
	PhaseCharacterSelection Phase = "CharacterSelection"
	PhaseStageStriking      Phase = "StageStriking"
	PhaseActive             Phase = "Active"
	PhaseCompleted          Phase = "Completed"
)

// Participant binds a player slot to a connection.
type Participant struct {
	ConnID   string
	PlayerID string // authenticated identifier, empty for anonymous play
	Alias    string // self-reported display name
}

// StageState tracks striking for the current game.
type StageState struct {
	TurnPlayerIndex     int
	BanCreditsRemaining int
	Available           []string
	Banned              []string

	pending []ruleset.StrikeStep // steps after the current one
	picker  int
}

// ChatEntry is one line in the match chat log. System entries have no sender.
type ChatEntry struct {
	Sender string
	Text   string
	At     time.Time
	System bool
}

// ResultKind tells the caller what a result report resolved to.
type ResultKind int

const (
	ResultPending ResultKind = iota
	ResultConflict
	ResultGameWon
	ResultMatchWon
)

// Resolution of a ReportResult call.
type Resolution struct {
	Kind     ResultKind
	Reporter int
	Claimed  int    // reporter's claim
	Claims   [2]int // both claims, set once the second report arrives
	Winner   int    // game winner for ResultGameWon and ResultMatchWon
}

// Match is the aggregate for one best-of set. It is not safe for concurrent use.
type Match struct {
	ID            string
	Participants  [2]Participant
	Phase         Phase
	GameNumber    int
	Scores        [2]int
	Characters    [2]string
	Stage         StageState
	SelectedStage string
	Reports       [2]*int
	Chat          []ChatEntry
	Rated         bool
	Prefs         domain.Preferences
	CreatedAt     time.Time
	UpdatedAt     time.Time

	rules      *ruleset.Ruleset
	lastWinner int
}

// Errors carry a stable wire code.
var (
	ErrWrongPhase       = errf("wrong_phase", "action not allowed in this phase")
	ErrNotYourTurn      = errf("not_your_turn", "not your turn")
	ErrStageUnavailable = errf("stage_unavailable", "stage is not available")
	ErrBansRemaining    = errf("bans_remaining", "bans remaining before pick")
	ErrNoBanCredits     = errf("no_ban_credits", "no ban credits left")
	ErrUnknownCharacter = errf("unknown_character", "unknown character")
	ErrInvalidWinner    = errf("invalid_winner", "winner must be 0 or 1")
	ErrNotParticipant   = errf("not_participant", "not a participant of this match")
	ErrMatchOver        = errf("match_over", "match already completed")
)

type staticErr struct{ code, msg string }

func (e *staticErr) Error() string { return e.msg }
func (e *staticErr) Code() string  { return e.code }
func errf(code, msg string) error  { return &staticErr{code: code, msg: msg} }
