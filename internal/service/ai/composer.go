package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
)

// Composer turns a CompletionRequest into the message list sent upstream.
type Composer struct {
	template prompt.ChatTemplate
}

// NewComposer 创建带 system 与 history 占位的模板。
func NewComposer() *Composer {
	return &Composer{
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.MessagesPlaceholder("history", true),
		),
	}
}

// Compose prepends the system prompt to the request's transcript.
func (c *Composer) Compose(ctx context.Context, req CompletionRequest) ([]*schema.Message, error) {
	if strings.TrimSpace(req.Character.Name) == "" {
		return nil, fmt.Errorf("%w: character name is required", ErrInvalidRequest)
	}

	history := make([]*schema.Message, 0, len(req.Messages))
	for _, turn := range req.Messages {
		switch turn.Role {
		case "user":
			history = append(history, schema.UserMessage(turn.Content))
		case "assistant":
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		case "system":
			history = append(history, schema.SystemMessage(turn.Content))
		default:
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, turn.Role)
		}
	}

	msgs, err := c.template.Format(ctx, map[string]any{
		"system":  SystemPrompt(req),
		"history": history,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return msgs, nil
}

// SystemPrompt renders the roleplay system prompt. Empty optional fields are
// left out.
func SystemPrompt(req CompletionRequest) string {
	var b strings.Builder
	ch := req.Character

	fmt.Fprintf(&b, "You are %s, a character in an immersive roleplay experience.\n\n", ch.Name)
	b.WriteString("CHARACTER PROFILE:\n")
	fmt.Fprintf(&b, "- Name: %s\n", ch.Name)
	writeField(&b, "Description", ch.Description)
	writeField(&b, "Personality", ch.Personality)
	writeField(&b, "Backstory", ch.Backstory)
	writeField(&b, "Speaking Style", ch.SpeakingStyle)
	writeField(&b, "Character Rules", ch.Rules)

	if w := req.World; w != nil {
		b.WriteString("\nWORLD/SETTING:\n")
		fmt.Fprintf(&b, "- World Name: %s\n", w.Name)
		writeField(&b, "Description", w.Description)
		writeField(&b, "Lore", w.Lore)
		writeField(&b, "World Rules", w.Rules)
	}

	if len(req.Memories) > 0 {
		b.WriteString("\nIMPORTANT MEMORIES (things you remember from past interactions):\n")
		for _, m := range req.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	if req.IsRPGMode && req.RPGState != nil {
		writeRPG(&b, *req.RPGState)
	}

	if req.SafeMode {
		b.WriteString(`
CONTENT GUIDELINES:
- Keep all content appropriate and safe
- Avoid explicit violence, gore, or adult themes
- Focus on adventure, story, and character development
`)
	} else {
		b.WriteString(`
CONTENT GUIDELINES:
- Mature themes are allowed but keep it tasteful
- Focus on narrative quality and character depth
`)
	}

	b.WriteString(`
ROLEPLAY INSTRUCTIONS:
- Stay in character at all times
- Write in a narrative style with dialogue and action descriptions
- Use *asterisks* for actions and descriptions
- React authentically based on your personality and the situation
- Create engaging, immersive responses that advance the story
- Keep responses between 100-300 words for good pacing
`)
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func writeRPG(b *strings.Builder, s rpg.State) {
	b.WriteString("\nRPG MODE ACTIVE:\n")
	b.WriteString("You are participating in a text-based RPG. Current player stats:\n")
	fmt.Fprintf(b, "- HP: %d/%d\n", s.HP, s.MaxHP)
	fmt.Fprintf(b, "- Inventory: %s\n", joinOr(s.Inventory, "Empty"))
	fmt.Fprintf(b, "- Skills: %s\n", joinOr(s.Skills, "None"))
	fmt.Fprintf(b, "- Status Effects: %s\n", joinOr(s.StatusEffects, "None"))
	b.WriteString(`
When the user performs actions, you should:
1. Describe the outcome narratively
2. If combat or skill checks are involved, indicate when dice rolls are needed using [DICE:XdY] format (e.g., [DICE:1d20] for a skill check)
3. Suggest stat changes using [STAT_CHANGE:hp:-10] or [ITEM:+Rusty Sword] format
4. Keep the story engaging and reactive to player choices
`)
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}
