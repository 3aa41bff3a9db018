package chat

import (
	"time"

	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
)

// Session is one conversation between a user and a character. IsRPGMode is
// fixed when the session is created.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	CharacterID string    `json:"characterId"`
	Title       string    `json:"title"`
	IsRPGMode   bool      `json:"isRpgMode"`
	RPGState    rpg.State `json:"rpgState"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
