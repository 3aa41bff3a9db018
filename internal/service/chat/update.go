package chat

import (
	chatmodel "github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
)

// PlaceholderID is the stable id of the in-progress assistant message.
const PlaceholderID = "streaming"

// UpdateKind names a controller update.
type UpdateKind string

const (
	UpdateUserMessage      UpdateKind = "user_message"
	UpdateSystemMessage    UpdateKind = "system_message"
	UpdateDelta            UpdateKind = "delta"
	UpdateAssistantMessage UpdateKind = "assistant_message"
	UpdateRPGEvent         UpdateKind = "rpg_event"
	UpdateState            UpdateKind = "state"
	UpdateError            UpdateKind = "error"
	UpdateDone             UpdateKind = "done"
)

// Update is one observable step of a send or roll. Delta updates carry the
// placeholder message with the full text so far.
type Update struct {
	Kind    UpdateKind         `json:"type"`
	Message *chatmodel.Message `json:"message,omitempty"`
	Event   *rpg.Event         `json:"event,omitempty"`
	Notice  string             `json:"notice,omitempty"`
	State   *rpg.State         `json:"state,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Sink receives updates in order on the sending goroutine.
type Sink func(Update)

func discard(Update) {}
