// Package ruleset holds the static roster and stage data and the turn order used
// for stage striking.
package ruleset

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFiles embed.FS

// Ruleset is immutable after Load.
type Ruleset struct {
	Name            string
	Characters      []string
	Starters        []string
	Counterpicks    []string
	FirstBans       int
	SecondBans      int
	CounterpickBans int
	BestOf          int

	roster map[string]string // lower-case -> canonical
}

type fileFormat struct {
	Name       string   `yaml:"name"`
	Characters []string `yaml:"characters"`
	Stages     struct {
		Starters     []string `yaml:"starters"`
		Counterpicks []string `yaml:"counterpicks"`
	} `yaml:"stages"`
	Striking struct {
		FirstBans       int `yaml:"first_bans"`
		SecondBans      int `yaml:"second_bans"`
		CounterpickBans int `yaml:"counterpick_bans"`
	} `yaml:"striking"`
	BestOf int `yaml:"best_of"`
}

// Default returns the embedded ruleset. It panics only if the embedded file is broken.
func Default() *Ruleset {
	rs, err := loadEmbedded()
	if err != nil {
		panic(fmt.Sprintf("ruleset: embedded default invalid: %v", err))
	}
	return rs
}

// Load reads an override file, or the embedded default when path is empty.
func Load(path string) (*Ruleset, error) {
	if strings.TrimSpace(path) == "" {
		return loadEmbedded()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(raw)
}

func loadEmbedded() (*Ruleset, error) {
	raw, err := fs.ReadFile(defaultFiles, "default.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded ruleset: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a ruleset document.
func Parse(raw []byte) (*Ruleset, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	rs := &Ruleset{
		Name:            strings.TrimSpace(f.Name),
		Characters:      trimAll(f.Characters),
		Starters:        trimAll(f.Stages.Starters),
		Counterpicks:    trimAll(f.Stages.Counterpicks),
		FirstBans:       f.Striking.FirstBans,
		SecondBans:      f.Striking.SecondBans,
		CounterpickBans: f.Striking.CounterpickBans,
		BestOf:          f.BestOf,
	}
	if rs.BestOf == 0 {
		rs.BestOf = 3
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	rs.roster = make(map[string]string, len(rs.Characters))
	for _, c := range rs.Characters {
		rs.roster[strings.ToLower(c)] = c
	}
	return rs, nil
}

func (r *Ruleset) validate() error {
	if len(r.Characters) == 0 {
		return errors.New("ruleset: no characters")
	}
	if len(r.Starters) == 0 {
		return errors.New("ruleset: no starter stages")
	}
	if r.BestOf < 1 || r.BestOf%2 == 0 {
		return fmt.Errorf("ruleset: best_of must be odd, got %d", r.BestOf)
	}
	if r.FirstBans < 1 || r.SecondBans < 1 || r.CounterpickBans < 1 {
		return errors.New("ruleset: ban counts must be positive")
	}
	seen := map[string]bool{}
	for _, s := range r.FullPool() {
		k := strings.ToLower(s)
		if seen[k] {
			return fmt.Errorf("ruleset: duplicate stage %q", s)
		}
		seen[k] = true
	}
	if r.FirstBans+r.SecondBans >= len(r.Starters) {
		return errors.New("ruleset: game 1 bans leave no starter to pick")
	}
	if r.CounterpickBans >= len(r.FullPool()) {
		return errors.New("ruleset: counterpick bans leave no stage to pick")
	}
	return nil
}

// WinsNeeded is the number of game wins that ends the set (2 for best of 3).
func (r *Ruleset) WinsNeeded() int { return r.BestOf/2 + 1 }

// Character returns the canonical roster spelling.
func (r *Ruleset) Character(name string) (string, bool) {
	c, ok := r.roster[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// FullPool is starters followed by counterpicks.
func (r *Ruleset) FullPool() []string {
	out := make([]string, 0, len(r.Starters)+len(r.Counterpicks))
	out = append(out, r.Starters...)
	return append(out, r.Counterpicks...)
}

// StrikeStep is one contiguous run of bans by a single player index.
type StrikeStep struct {
	Player int
	Bans   int
}

// StrikePlan is the full pre-game sequence for one game.
type StrikePlan struct {
	Pool   []string
	Steps  []StrikeStep
	Picker int
}

// PlanFor returns the striking plan for a game. prevWinner is ignored for game 1.
func (r *Ruleset) PlanFor(game, prevWinner int) StrikePlan {
	if game <= 1 {
		return StrikePlan{
			Pool:   append([]string(nil), r.Starters...),
			Steps:  []StrikeStep{{Player: 0, Bans: r.FirstBans}, {Player: 1, Bans: r.SecondBans}},
			Picker: 0,
		}
	}
	return StrikePlan{
		Pool:   r.FullPool(),
		Steps:  []StrikeStep{{Player: prevWinner, Bans: r.CounterpickBans}},
		Picker: 1 - prevWinner,
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
