package rpg

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/rpg/internal/rpg/dice"
)

type fixedSource struct{ v int }

func (f fixedSource) IntN(n int) int { return f.v % n }

func newTestMachine() *Machine {
	return NewMachine(dice.NewWithSource(fixedSource{v: 2}))
}

func TestApplyWithoutTokensIsNoop(t *testing.T) {
	m := newTestMachine()
	state := NewState(100)
	state.Inventory = []string{"Torch"}

	out := m.Apply(state, "The innkeeper nods and pours you an ale. [not a token]")

	assert.False(t, out.Changed)
	assert.Empty(t, out.Events)
	assert.True(t, out.State.Equal(state))
}

func TestApplyClampsDamageAtZero(t *testing.T) {
	m := newTestMachine()
	state := State{Version: StateVersion, HP: 50, MaxHP: 100}

	out := m.Apply(state, "The troll swings! [STAT_CHANGE:hp:-70]")

	require.True(t, out.Changed)
	assert.Equal(t, 0, out.State.HP)
	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, HpChanged, ev.Kind)
	require.NotNil(t, ev.HP)
	assert.Equal(t, -50, ev.HP.Applied)
	assert.Equal(t, -70, ev.HP.Requested)
	assert.Equal(t, "💔 Took 50 damage", ev.Notice())
}

func TestApplyClampsHealingAtMax(t *testing.T) {
	m := newTestMachine()
	state := State{Version: StateVersion, HP: 95, MaxHP: 100}

	out := m.Apply(state, "[stat_change:HP:+20]")

	assert.Equal(t, 100, out.State.HP)
	require.Len(t, out.Events, 1)
	assert.Equal(t, 5, out.Events[0].HP.Applied)
	assert.Equal(t, "❤️ Healed 5 HP", out.Events[0].Notice())
}

func TestApplyHugeDeltasSaturate(t *testing.T) {
	m := newTestMachine()
	state := State{Version: StateVersion, HP: 50, MaxHP: 100}

	healed := m.Apply(state, "[STAT_CHANGE:hp:+9223372036854775807]")
	assert.Equal(t, 100, healed.State.HP)
	require.Len(t, healed.Events, 1)
	assert.Equal(t, 50, healed.Events[0].HP.Applied)
	assert.Equal(t, "❤️ Healed 50 HP", healed.Events[0].Notice())

	hurt := m.Apply(state, "[STAT_CHANGE:hp:-9223372036854775808]")
	assert.Equal(t, 0, hurt.State.HP)
	assert.Equal(t, -50, hurt.Events[0].HP.Applied)
}

func TestApplyHPStaysInRangeForArbitraryDeltas(t *testing.T) {
	m := newTestMachine()
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 50; round++ {
		maxHP := rng.IntN(300)
		state := NewState(maxHP)
		for step := 0; step < 20; step++ {
			delta := rng.IntN(2001) - 1000
			out := m.Apply(state, fmt.Sprintf("[STAT_CHANGE:hp:%+d]", delta))
			require.GreaterOrEqual(t, out.State.HP, 0)
			require.LessOrEqual(t, out.State.HP, maxHP)
			state = out.State
		}
	}
}

func TestApplyIgnoresUnknownStats(t *testing.T) {
	m := newTestMachine()
	state := NewState(10)

	out := m.Apply(state, "[STAT_CHANGE:mana:-5] [STAT_CHANGE:strength:+1]")

	assert.False(t, out.Changed)
	assert.Empty(t, out.Events)
}

func TestApplyItemsRoundTrip(t *testing.T) {
	m := newTestMachine()
	state := NewState(20)

	gained := m.Apply(state, "You find a blade. [ITEM:+ Rusty Sword ]")
	require.True(t, gained.Changed)
	assert.Equal(t, []string{"Rusty Sword"}, gained.State.Inventory)
	require.Len(t, gained.Events, 1)
	assert.Equal(t, ItemGained, gained.Events[0].Kind)
	assert.Equal(t, "📦 Acquired: Rusty Sword", gained.Events[0].Notice())

	lost := m.Apply(gained.State, "It shatters. [ITEM:-Rusty Sword]")
	require.True(t, lost.Changed)
	assert.NotContains(t, lost.State.Inventory, "Rusty Sword")
	require.Len(t, lost.Events, 1)
	assert.Equal(t, ItemLost, lost.Events[0].Kind)
	assert.True(t, lost.Events[0].Removed)
}

func TestApplyRemovesOneMatchingItem(t *testing.T) {
	m := newTestMachine()
	state := NewState(20)
	state.Inventory = []string{"Potion", "Rope", "Potion"}

	out := m.Apply(state, "[ITEM:-Potion]")

	assert.Equal(t, []string{"Rope", "Potion"}, out.State.Inventory)
}

func TestApplyRemovingMissingItemKeepsState(t *testing.T) {
	m := newTestMachine()
	state := NewState(20)

	out := m.Apply(state, "[ITEM:-Lantern]")

	assert.False(t, out.Changed)
	require.Len(t, out.Events, 1)
	assert.False(t, out.Events[0].Removed)
}

func TestApplyDiceDoesNotMutateState(t *testing.T) {
	m := newTestMachine()
	state := NewState(30)

	out := m.Apply(state, "Make a check [DICE:1d20+2] and then [dice:2d6]")

	assert.False(t, out.Changed)
	require.Len(t, out.Events, 2)
	assert.Equal(t, DiceRolled, out.Events[0].Kind)
	assert.Equal(t, "1d20+2", out.Events[0].Dice.Dice)
	assert.Equal(t, 5, out.Events[0].Dice.Total)
	assert.Equal(t, "2d6", out.Events[1].Dice.Dice)
	assert.Equal(t, []int{3, 3}, out.Events[1].Dice.Rolls)
}

func TestApplyCombinesPassesInOrder(t *testing.T) {
	m := newTestMachine()
	state := NewState(40)

	out := m.Apply(state, "[ITEM:+Shield] [STAT_CHANGE:hp:-10] [DICE:1d4] [ITEM:+Herb]")

	require.Len(t, out.Events, 4)
	kinds := []EventKind{out.Events[0].Kind, out.Events[1].Kind, out.Events[2].Kind, out.Events[3].Kind}
	assert.Equal(t, []EventKind{DiceRolled, HpChanged, ItemGained, ItemGained}, kinds)
	assert.Equal(t, 30, out.State.HP)
	assert.Equal(t, []string{"Shield", "Herb"}, out.State.Inventory)
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	m := newTestMachine()
	state := NewState(10)
	state.Inventory = []string{"Map"}

	_ = m.Apply(state, "[ITEM:+Key] [ITEM:-Map] [STAT_CHANGE:hp:-3]")

	assert.Equal(t, []string{"Map"}, state.Inventory)
	assert.Equal(t, 10, state.HP)
}

func TestParseCommandsSkipsEmptyItemNames(t *testing.T) {
	cmds := ParseCommands("[ITEM:+   ] [ITEM:-x]")

	require.Len(t, cmds.Items, 1)
	assert.Equal(t, ItemCommand{Add: false, Name: "x"}, cmds.Items[0])
}
