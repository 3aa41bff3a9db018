package rpg

import (
	"regexp"
	"strconv"
	"strings"
)

// Token grammar shared with the prompt composer. Matching is
// case-insensitive.
var (
	diceToken = regexp.MustCompile(`(?i)\[DICE:(\d+d\d+(?:[+-]\d+)?)\]`)
	statToken = regexp.MustCompile(`(?i)\[STAT_CHANGE:(\w+):([+-]?\d+)\]`)
	itemToken = regexp.MustCompile(`(?i)\[ITEM:([+-])([^\]]+)\]`)
)

// DiceCommand asks for a roll of Notation.
type DiceCommand struct {
	Notation string
}

// StatCommand adjusts Stat by Delta. Stat is lower-cased.
type StatCommand struct {
	Stat  string
	Delta int
}

// ItemCommand adds (Add true) or removes an inventory entry.
type ItemCommand struct {
	Add  bool
	Name string
}

// Commands holds the tokens found in one message, grouped per pass and in
// left-to-right order within each pass.
type Commands struct {
	Dice  []DiceCommand
	Stats []StatCommand
	Items []ItemCommand
}

// Empty reports whether no tokens were found.
func (c Commands) Empty() bool {
	return len(c.Dice) == 0 && len(c.Stats) == 0 && len(c.Items) == 0
}

// ParseCommands scans text for command tokens. The three passes are
// independent; a stat delta that does not fit in an int is skipped.
func ParseCommands(text string) Commands {
	var cmds Commands

	for _, m := range diceToken.FindAllStringSubmatch(text, -1) {
		cmds.Dice = append(cmds.Dice, DiceCommand{Notation: m[1]})
	}

	for _, m := range statToken.FindAllStringSubmatch(text, -1) {
		delta, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		cmds.Stats = append(cmds.Stats, StatCommand{Stat: strings.ToLower(m[1]), Delta: delta})
	}

	for _, m := range itemToken.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}
		cmds.Items = append(cmds.Items, ItemCommand{Add: m[1] == "+", Name: name})
	}

	return cmds
}
