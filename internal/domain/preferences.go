package domain

import "strings"

// ConnectionQuality is the self-reported link type of a searching player.
type ConnectionQuality string

const (
	ConnectionWired    ConnectionQuality = "wired"
	ConnectionWireless ConnectionQuality = "wireless"
)

// ParseConnectionQuality accepts a few common spellings; anything else is wireless.
func ParseConnectionQuality(s string) ConnectionQuality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wired", "lan", "ethernet":
		return ConnectionWired
	default:
		return ConnectionWireless
	}
}

// Rules are the per-match game settings agreed at search time.
type Rules struct {
	StockCount          int  `json:"stockCount"`
	TimeLimitMinutes    int  `json:"timeLimitMinutes"`
	ItemsEnabled        bool `json:"itemsEnabled"`
	StageHazardsEnabled bool `json:"stageHazardsEnabled"`
}

// DefaultRules is the competitive 1v1 default.
var DefaultRules = Rules{StockCount: 3, TimeLimitMinutes: 7}

// Preferences are attached to a waiting entry and copied into the match at pairing.
type Preferences struct {
	Region     string            `json:"region"`
	Connection ConnectionQuality `json:"connection"`
	Rules      Rules             `json:"rules"`
}

// Normalize trims the region and fills zero-valued rules with defaults.
func (p Preferences) Normalize() Preferences {
	p.Region = strings.TrimSpace(p.Region)
	p.Connection = ParseConnectionQuality(string(p.Connection))
	if p.Rules.StockCount <= 0 {
		p.Rules.StockCount = DefaultRules.StockCount
	}
	if p.Rules.TimeLimitMinutes <= 0 {
		p.Rules.TimeLimitMinutes = DefaultRules.TimeLimitMinutes
	}
	return p
}

// SameRegion compares regions case-insensitively.
func (p Preferences) SameRegion(o Preferences) bool {
	return strings.EqualFold(p.Region, o.Region)
}
