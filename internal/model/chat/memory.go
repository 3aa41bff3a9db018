package chat

import "time"

// DefaultMemoryCategory is assigned to memories created without a category.
const DefaultMemoryCategory = "general"

// MemoryEntry is a user-curated fact injected into prompts while pinned.
// CharacterID and WorldID are optional scopes.
type MemoryEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	CharacterID string    `json:"characterId,omitempty"`
	WorldID     string    `json:"worldId,omitempty"`
	Content     string    `json:"content"`
	Category    string    `json:"category"`
	IsPinned    bool      `json:"isPinned"`
	CreatedAt   time.Time `json:"createdAt"`
}
