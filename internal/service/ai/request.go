package ai

import (
	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
)

// Turn is one prior transcript entry sent upstream.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CharacterProfile is the character context of a completion request.
type CharacterProfile struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Personality   string `json:"personality,omitempty"`
	Backstory     string `json:"backstory,omitempty"`
	SpeakingStyle string `json:"speaking_style,omitempty"`
	Rules         string `json:"rules,omitempty"`
}

// WorldProfile is the optional world context of a completion request.
type WorldProfile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Lore        string `json:"lore,omitempty"`
	Rules       string `json:"rules,omitempty"`
}

// CompletionRequest carries everything needed to compose one upstream call.
type CompletionRequest struct {
	Messages  []Turn           `json:"messages"`
	Character CharacterProfile `json:"character"`
	World     *WorldProfile    `json:"world,omitempty"`
	Memories  []string         `json:"memories,omitempty"`
	IsRPGMode bool             `json:"isRpgMode"`
	RPGState  *rpg.State       `json:"rpgState,omitempty"`
	SafeMode  bool             `json:"safeMode"`
}

// ProfileFromCharacter maps a stored character onto its prompt profile.
func ProfileFromCharacter(c character.Character) CharacterProfile {
	return CharacterProfile{
		Name:          c.Name,
		Description:   c.Description,
		Personality:   c.Personality,
		Backstory:     c.Backstory,
		SpeakingStyle: c.SpeakingStyle,
		Rules:         c.Rules,
	}
}

// ProfileFromWorld maps a stored world onto its prompt profile; nil stays nil.
func ProfileFromWorld(w *character.World) *WorldProfile {
	if w == nil {
		return nil
	}
	return &WorldProfile{
		Name:        w.Name,
		Description: w.Description,
		Lore:        w.Lore,
		Rules:       w.Rules,
	}
}

// TurnsFromMessages converts a transcript. Dice roll notes keep the system
// role.
func TurnsFromMessages(messages []chat.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, Turn{Role: string(msg.Role), Content: msg.Content})
	}
	return turns
}
