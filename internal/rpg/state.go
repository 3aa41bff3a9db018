// Package rpg tracks per-session tabletop state and applies the command
// tokens an AI persona embeds in its replies.
package rpg

import (
	"encoding/json"
	"fmt"
	"slices"
)

// StateVersion is the current encoding of State.
const StateVersion = 1

// State is the mutable RPG snapshot held by a chat session.
type State struct {
	Version       int      `json:"version"`
	HP            int      `json:"hp"`
	MaxHP         int      `json:"max_hp"`
	Inventory     []string `json:"inventory"`
	Skills        []string `json:"skills"`
	StatusEffects []string `json:"status_effects"`
}

// NewState returns a fresh state at full health.
func NewState(maxHP int) State {
	if maxHP < 0 {
		maxHP = 0
	}
	return State{
		Version:       StateVersion,
		HP:            maxHP,
		MaxHP:         maxHP,
		Inventory:     []string{},
		Skills:        []string{},
		StatusEffects: []string{},
	}
}

// Inert returns the placeholder state stored on sessions without RPG mode.
func Inert() State {
	return NewState(0)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Inventory = cloneList(s.Inventory)
	s.Skills = cloneList(s.Skills)
	s.StatusEffects = cloneList(s.StatusEffects)
	return s
}

// Equal reports value equality.
func (s State) Equal(o State) bool {
	return s.Version == o.Version &&
		s.HP == o.HP &&
		s.MaxHP == o.MaxHP &&
		slices.Equal(s.Inventory, o.Inventory) &&
		slices.Equal(s.Skills, o.Skills) &&
		slices.Equal(s.StatusEffects, o.StatusEffects)
}

// Normalize enforces the state invariants: non-negative max hp, hp within
// [0, max_hp], non-nil lists, current version.
func (s State) Normalize() State {
	if s.MaxHP < 0 {
		s.MaxHP = 0
	}
	s.HP = clamp(s.HP, 0, s.MaxHP)
	if s.Inventory == nil {
		s.Inventory = []string{}
	}
	if s.Skills == nil {
		s.Skills = []string{}
	}
	if s.StatusEffects == nil {
		s.StatusEffects = []string{}
	}
	s.Version = StateVersion
	return s
}

// DecodeState reads a stored state blob. Unknown fields are ignored and
// unversioned blobs are upgraded; an empty blob decodes to the inert state.
func DecodeState(raw []byte) (State, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Inert(), nil
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("decode rpg state: %w", err)
	}
	if s.Version > StateVersion {
		return State{}, fmt.Errorf("decode rpg state: unsupported version %d", s.Version)
	}
	return s.Normalize(), nil
}

// Encode marshals the normalized state.
func (s State) Encode() ([]byte, error) {
	return json.Marshal(s.Normalize())
}

func cloneList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
