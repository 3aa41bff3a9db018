package chat

import (
	"time"

	"github.com/zhouzirui/z-tavern/rpg/internal/rpg/dice"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one transcript entry. Messages are append-only and ordered by
// CreatedAt.
type Message struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionId"`
	Role       Role         `json:"role"`
	Content    string       `json:"content"`
	IsDiceRoll bool         `json:"isDiceRoll,omitempty"`
	DiceResult *dice.Result `json:"diceResult,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}
