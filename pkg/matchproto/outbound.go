package matchproto

import "time"

// Outbound kinds.
const (
	TypeConnected                = "connected"
	TypeMatch                    = "match"
	TypeMatchState               = "match_state"
	TypeCharacterSelectionUpdate = "character_selection_update"
	TypeStageStrikingUpdate      = "stage_striking_update"
	TypeMatchComplete            = "match_complete"
	TypeGameResultPending        = "game_result_pending"
	TypeGameResultConflict       = "game_result_conflict"
	TypeMatchReset               = "match_reset"
	TypeOpponentLeft             = "opponent_left"
	TypeChat                     = "chat"
	TypeError                    = "error"
)

// Teardown reasons carried by match_reset and opponent_left.
const (
	ReasonLeft       = "left"
	ReasonDisconnect = "disconnect"
	ReasonIdle       = "idle"
	ReasonShutdown   = "shutdown"
)

// Envelope is every server frame.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type Player struct {
	ConnectionID string `json:"connectionId"`
	PlayerID     string `json:"playerId,omitempty"`
	Alias        string `json:"alias,omitempty"`
}

type StageState struct {
	TurnPlayerIndex     int      `json:"turnPlayerIndex"`
	BanCreditsRemaining int      `json:"banCreditsRemaining"`
	Available           []string `json:"availableStages"`
	Banned              []string `json:"bannedStages"`
}

// State is the shared match snapshot. Both participants always get the same value.
type State struct {
	MatchID        string     `json:"matchId"`
	Phase          string     `json:"phase"`
	GameNumber     int        `json:"gameNumber"`
	Scores         [2]int     `json:"scores"`
	Characters     [2]string  `json:"characters"`
	Stage          StageState `json:"stageState"`
	SelectedStage  string     `json:"selectedStage,omitempty"`
	PendingReports [2]*int    `json:"pendingReports"`
	Players        [2]Player  `json:"players"`
	Rated          bool       `json:"rated"`
	Rules          Rules      `json:"rules"`
	Region         string     `json:"region,omitempty"`
}

type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
	PlayerID     string `json:"playerId,omitempty"`
	MatchID      string `json:"matchId,omitempty"` // chat-only connections
}

type MatchData struct {
	MatchID     string `json:"matchId"`
	PlayerIndex int    `json:"playerIndex"`
	Opponent    Player `json:"opponent"`
	State       State  `json:"state"`
}

type StateData struct {
	State State `json:"state"`
}

type CharacterSelectionData struct {
	PlayerIndex int    `json:"playerIndex"`
	Character   string `json:"character"`
	State       State  `json:"state"`
}

// Striking actions.
const (
	ActionBan  = "ban"
	ActionPick = "pick"
)

type StageStrikingData struct {
	Action      string `json:"action"`
	PlayerIndex int    `json:"playerIndex"`
	Stage       string `json:"stage"`
	State       State  `json:"state"`
}

type GameResultPendingData struct {
	Reporter int   `json:"reporter"`
	Winner   int   `json:"winner"`
	State    State `json:"state"`
}

type GameResultConflictData struct {
	Claims [2]int `json:"claims"`
	State  State  `json:"state"`
}

type MatchCompleteData struct {
	Winner int    `json:"winner"`
	Scores [2]int `json:"scores"`
	Rated  bool   `json:"rated"`
	State  State  `json:"state"`
}

type MatchResetData struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason"`
}

type OpponentLeftData struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason"`
}

type ChatData struct {
	MatchID string    `json:"matchId"`
	Sender  string    `json:"sender,omitempty"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
	System  bool      `json:"system,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New wraps a payload.
func New(typ string, data any) Envelope { return Envelope{Type: typ, Data: data} }
