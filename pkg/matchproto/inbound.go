// Package matchproto defines the websocket message envelopes exchanged with clients.
package matchproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Inbound kinds.
const (
	KindSearch          = "search"
	KindCancel          = "cancel"
	KindSelectCharacter = "select_character"
	KindBanStage        = "ban_stage"
	KindPickStage       = "pick_stage"
	KindGameResult      = "game_result"
	KindLeaveMatch      = "leave_match"
	KindChat            = "chat"
)

// MaxChatLen is the longest accepted chat message in runes.
const MaxChatLen = 500

// Inbound is one decoded client message.
type Inbound interface {
	Kind() string
}

// Rules mirrors the ruleset fields a client may request.
type Rules struct {
	StockCount          int  `json:"stockCount"`
	TimeLimitMinutes    int  `json:"timeLimitMinutes"`
	ItemsEnabled        bool `json:"itemsEnabled"`
	StageHazardsEnabled bool `json:"stageHazardsEnabled"`
}

type Search struct {
	Region     string `json:"region"`
	Connection string `json:"connection"`
	Rules      Rules  `json:"rules"`
	Alias      string `json:"alias,omitempty"` // unverified display name, never a rating key
	RatingHint *int   `json:"ratingHint,omitempty"`
}

type Cancel struct{}

type SelectCharacter struct {
	Character string `json:"character"`
}

type BanStage struct {
	Stage string `json:"stage"`
}

type PickStage struct {
	Stage string `json:"stage"`
}

type GameResult struct {
	Winner *int `json:"winner"`
}

type LeaveMatch struct{}

type Chat struct {
	MatchID string `json:"matchId,omitempty"`
	Text    string `json:"text"`
}

func (Search) Kind() string          { return KindSearch }
func (Cancel) Kind() string          { return KindCancel }
func (SelectCharacter) Kind() string { return KindSelectCharacter }
func (BanStage) Kind() string        { return KindBanStage }
func (PickStage) Kind() string       { return KindPickStage }
func (GameResult) Kind() string      { return KindGameResult }
func (LeaveMatch) Kind() string      { return KindLeaveMatch }
func (Chat) Kind() string            { return KindChat }

type rawInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one frame. Unknown kinds and invalid payloads return a
// bad_request *Error.
func Decode(frame []byte) (Inbound, error) {
	var r rawInbound
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, BadRequest("malformed message")
	}
	switch r.Type {
	case KindSearch:
		var m Search
		if !isEmpty(r.Data) {
			if err := decodeData(r.Data, &m); err != nil {
				return nil, err
			}
		}
		m.Region = strings.TrimSpace(m.Region)
		m.Alias = strings.TrimSpace(m.Alias)
		return m, nil
	case KindCancel:
		return Cancel{}, nil
	case KindSelectCharacter:
		var m SelectCharacter
		if err := decodeData(r.Data, &m); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Character) == "" {
			return nil, BadRequest("character required")
		}
		return m, nil
	case KindBanStage:
		var m BanStage
		if err := decodeData(r.Data, &m); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Stage) == "" {
			return nil, BadRequest("stage required")
		}
		return m, nil
	case KindPickStage:
		var m PickStage
		if err := decodeData(r.Data, &m); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Stage) == "" {
			return nil, BadRequest("stage required")
		}
		return m, nil
	case KindGameResult:
		var m GameResult
		if err := decodeData(r.Data, &m); err != nil {
			return nil, err
		}
		if m.Winner == nil {
			return nil, BadRequest("winner required")
		}
		return m, nil
	case KindLeaveMatch:
		return LeaveMatch{}, nil
	case KindChat:
		var m Chat
		if err := decodeData(r.Data, &m); err != nil {
			return nil, err
		}
		m.MatchID = strings.TrimSpace(m.MatchID)
		if strings.TrimSpace(m.Text) == "" {
			return nil, BadRequest("text required")
		}
		if utf8.RuneCountInString(m.Text) > MaxChatLen {
			return nil, BadRequest(fmt.Sprintf("text longer than %d characters", MaxChatLen))
		}
		return m, nil
	case "":
		return nil, BadRequest("type required")
	default:
		return nil, BadRequest(fmt.Sprintf("unknown message type %q", r.Type))
	}
}

func isEmpty(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

func decodeData(data json.RawMessage, v any) error {
	if isEmpty(data) {
		return BadRequest("data required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return BadRequest("invalid data")
	}
	return nil
}
