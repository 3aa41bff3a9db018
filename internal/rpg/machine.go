package rpg

import (
	"fmt"
	"slices"

	"github.com/zhouzirui/z-tavern/rpg/internal/rpg/dice"
)

// EventKind names an RPG event.
type EventKind string

const (
	DiceRolled EventKind = "dice_rolled"
	HpChanged  EventKind = "hp_changed"
	ItemGained EventKind = "item_gained"
	ItemLost   EventKind = "item_lost"
)

// HPChange describes an applied hp delta. Applied is the clamped delta that
// actually reached the state; Requested is what the token asked for.
type HPChange struct {
	Requested int `json:"requested"`
	Applied   int `json:"applied"`
	HP        int `json:"hp"`
	MaxHP     int `json:"maxHp"`
}

// Event is display data for one processed token. Events are not persisted.
type Event struct {
	Kind    EventKind    `json:"kind"`
	Dice    *dice.Result `json:"dice,omitempty"`
	HP      *HPChange    `json:"hp,omitempty"`
	Item    string       `json:"item,omitempty"`
	Removed bool         `json:"removed,omitempty"`
}

// Notice renders the event as a short user-facing notification.
func (e Event) Notice() string {
	switch e.Kind {
	case DiceRolled:
		if e.Dice == nil {
			return "🎲 Rolled"
		}
		return "🎲 Rolled " + e.Dice.Describe()
	case HpChanged:
		if e.HP == nil {
			return ""
		}
		if e.HP.Applied >= 0 {
			return fmt.Sprintf("❤️ Healed %d HP", e.HP.Applied)
		}
		return fmt.Sprintf("💔 Took %d damage", -e.HP.Applied)
	case ItemGained:
		return "📦 Acquired: " + e.Item
	case ItemLost:
		return "📦 Lost: " + e.Item
	default:
		return string(e.Kind)
	}
}

// Outcome is the result of applying one message's tokens.
type Outcome struct {
	State   State
	Events  []Event
	Changed bool
}

// Machine applies command tokens to states. It holds no session state.
type Machine struct {
	roller *dice.Roller
}

// NewMachine returns a Machine rolling with roller; nil uses dice.New().
func NewMachine(roller *dice.Roller) *Machine {
	if roller == nil {
		roller = dice.New()
	}
	return &Machine{roller: roller}
}

// Roller exposes the dice roller for manual rolls.
func (m *Machine) Roller() *dice.Roller {
	return m.roller
}

// Apply processes every token in text against state and returns the new
// state with the events produced. The input state is not modified. When no
// token matches, the returned state equals the input and Events is empty.
func (m *Machine) Apply(state State, text string) Outcome {
	cmds := ParseCommands(text)
	if cmds.Empty() {
		return Outcome{State: state}
	}

	next := state.Clone()
	events := make([]Event, 0, len(cmds.Dice)+len(cmds.Stats)+len(cmds.Items))

	for _, cmd := range cmds.Dice {
		result := m.roller.Roll(cmd.Notation)
		events = append(events, Event{Kind: DiceRolled, Dice: &result})
	}

	for _, cmd := range cmds.Stats {
		if cmd.Stat != "hp" {
			continue
		}
		before := next.HP
		bound := max(next.MaxHP, 0)
		// A delta beyond max_hp in either direction saturates; the sum
		// cannot overflow.
		next.HP = clamp(before+clamp(cmd.Delta, -bound, bound), 0, bound)
		events = append(events, Event{
			Kind: HpChanged,
			HP: &HPChange{
				Requested: cmd.Delta,
				Applied:   next.HP - before,
				HP:        next.HP,
				MaxHP:     next.MaxHP,
			},
		})
	}

	for _, cmd := range cmds.Items {
		if cmd.Add {
			next.Inventory = append(next.Inventory, cmd.Name)
			events = append(events, Event{Kind: ItemGained, Item: cmd.Name})
			continue
		}
		removed := false
		if i := slices.Index(next.Inventory, cmd.Name); i >= 0 {
			next.Inventory = slices.Delete(next.Inventory, i, i+1)
			removed = true
		}
		events = append(events, Event{Kind: ItemLost, Item: cmd.Name, Removed: removed})
	}

	return Outcome{
		State:   next,
		Events:  events,
		Changed: !next.Equal(state),
	}
}
