package character

import (
	"strings"
	"time"
)

// Default attribute values used when a character is created without stats.
const (
	DefaultHP        = 100
	DefaultAttribute = 10
)

// Stats carries the base RPG stats of a character. Only HP and MaxHP feed the
// session state; the attributes are descriptive.
type Stats struct {
	HP           int `json:"hp"`
	MaxHP        int `json:"max_hp"`
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Intelligence int `json:"intelligence"`
	Charisma     int `json:"charisma"`
}

// DefaultStats returns the stats given to characters that supply none.
func DefaultStats() Stats {
	return Stats{
		HP:           DefaultHP,
		MaxHP:        DefaultHP,
		Strength:     DefaultAttribute,
		Dexterity:    DefaultAttribute,
		Intelligence: DefaultAttribute,
		Charisma:     DefaultAttribute,
	}
}

// Character is a user-owned AI persona.
type Character struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	WorldID         string    `json:"worldId,omitempty"`
	Name            string    `json:"name"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
	Description     string    `json:"description,omitempty"`
	Personality     string    `json:"personality,omitempty"`
	Backstory       string    `json:"backstory,omitempty"`
	SpeakingStyle   string    `json:"speakingStyle,omitempty"`
	Rules           string    `json:"rules,omitempty"`
	ExampleMessages string    `json:"exampleMessages,omitempty"`
	IsRPGEnabled    bool      `json:"isRpgEnabled"`
	BaseStats       *Stats    `json:"baseStats,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Stats returns the base stats, falling back to DefaultStats.
func (c Character) Stats() Stats {
	if c.BaseStats == nil {
		return DefaultStats()
	}
	return *c.BaseStats
}

// Validate checks the fields required on create and update.
func (c Character) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// World is a user-owned setting that characters may reference.
type World struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Lore        string    `json:"lore,omitempty"`
	Rules       string    `json:"rules,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the fields required on create and update.
func (w World) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return ErrNameRequired
	}
	return nil
}
