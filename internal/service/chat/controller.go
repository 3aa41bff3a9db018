package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/metrics"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	chatmodel "github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/stream"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

// Phase is the controller's position in the send cycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseFailed    Phase = "failed"
)

// Completer opens an upstream completion stream.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (io.ReadCloser, error)
}

// Locker serializes sends for a session across processes.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), ok bool, err error)
}

// SendOptions tune a single send. A nil SafeMode uses the controller default.
type SendOptions struct {
	SafeMode *bool
}

// Snapshot is a consistent copy of controller state.
type Snapshot struct {
	Phase    Phase               `json:"phase"`
	Session  *chatmodel.Session  `json:"session,omitempty"`
	Messages []chatmodel.Message `json:"messages"`
}

// Controller drives one chat session. Only one send runs at a time; a second
// SendMessage while one is in flight is ignored.
type Controller struct {
	store     storage.Store
	completer Completer
	machine   *rpg.Machine
	locker    Locker
	log       *zap.Logger
	safeMode  bool

	mu       sync.Mutex
	phase    Phase
	session  *chatmodel.Session
	messages []chatmodel.Message
}

// ControllerConfig carries the controller's collaborators.
type ControllerConfig struct {
	Store     storage.Store
	Completer Completer
	Machine   *rpg.Machine
	Locker    Locker
	Logger    *zap.Logger
	SafeMode  bool
}

// NewController returns an unbound controller. Bind a session before sending.
func NewController(cfg ControllerConfig) *Controller {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	machine := cfg.Machine
	if machine == nil {
		machine = rpg.NewMachine(nil)
	}
	return &Controller{
		store:     cfg.Store,
		completer: cfg.Completer,
		machine:   machine,
		locker:    cfg.Locker,
		log:       log.With(zap.String("component", "chat")),
		safeMode:  cfg.SafeMode,
		phase:     PhaseIdle,
	}
}

// Bind attaches a session and its transcript. It fails while a send is in
// flight.
func (c *Controller) Bind(session chatmodel.Session, messages []chatmodel.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busyLocked() {
		return ErrBusy
	}
	session.RPGState = session.RPGState.Clone()
	c.session = &session
	c.messages = slices.Clone(messages)
	c.phase = PhaseIdle
	return nil
}

// Snapshot returns the current phase, session and transcript.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Phase: c.phase, Messages: slices.Clone(c.messages)}
	if snap.Messages == nil {
		snap.Messages = []chatmodel.Message{}
	}
	if c.session != nil {
		s := *c.session
		s.RPGState = s.RPGState.Clone()
		snap.Session = &s
	}
	return snap
}

// Phase reports the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) busyLocked() bool {
	return c.phase == PhaseSending || c.phase == PhaseStreaming
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// begin moves Idle to Sending and returns a copy of the bound session and
// transcript.
func (c *Controller) begin() (chatmodel.Session, []chatmodel.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return chatmodel.Session{}, nil, ErrNoSession
	}
	if c.busyLocked() {
		return chatmodel.Session{}, nil, ErrBusy
	}
	c.phase = PhaseSending
	session := *c.session
	session.RPGState = session.RPGState.Clone()
	return session, slices.Clone(c.messages), nil
}

func (c *Controller) appendLocal(m chatmodel.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

// SendMessage persists text as a user message, streams the assistant reply
// into sink and applies RPG tokens from the final reply. Validation failures
// return an error wrapping ErrValidation and have no side effects. Any other
// failure emits exactly one UpdateError and leaves the controller idle.
func (c *Controller) SendMessage(ctx context.Context, text string, opts SendOptions, sink Sink) error {
	if sink == nil {
		sink = discard
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrBlankMessage
	}

	session, history, err := c.begin()
	if err != nil {
		return err
	}

	release, err := c.acquire(ctx, session.ID)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			c.setPhase(PhaseIdle)
			return err
		}
		return c.fail(sink, err)
	}
	defer release()

	outcome := "failed"
	defer func() { metrics.ChatStreams.WithLabelValues(outcome).Inc() }()

	user := &chatmodel.Message{SessionID: session.ID, Role: chatmodel.RoleUser, Content: text}
	if err := c.store.AppendMessage(ctx, user); err != nil {
		return c.fail(sink, &PersistenceError{Op: "save user message", Err: err})
	}
	c.appendLocal(*user)
	sink(Update{Kind: UpdateUserMessage, Message: user})

	req, err := c.buildRequest(ctx, session, append(history, *user), opts)
	if err != nil {
		return c.fail(sink, err)
	}

	c.setPhase(PhaseStreaming)
	start := time.Now()
	body, err := c.completer.Complete(ctx, req)
	if err != nil {
		outcome = outcomeOf(err)
		return c.fail(sink, err)
	}
	defer body.Close()

	placeholder := chatmodel.Message{
		ID:        PlaceholderID,
		SessionID: session.ID,
		Role:      chatmodel.RoleAssistant,
		CreatedAt: time.Now().UTC(),
	}
	sink(Update{Kind: UpdateDelta, Message: &placeholder})

	asm := stream.NewAssembler()
	for snapshot, err := range asm.Updates(ctx, body) {
		if err != nil {
			outcome = outcomeOf(err)
			return c.fail(sink, ai.WrapStreamError(err))
		}
		msg := placeholder
		msg.Content = snapshot
		sink(Update{Kind: UpdateDelta, Message: &msg})
	}

	// The reply is complete; finish persisting even if the caller leaves.
	persistCtx := context.WithoutCancel(ctx)

	assistant := &chatmodel.Message{SessionID: session.ID, Role: chatmodel.RoleAssistant, Content: asm.Text()}
	if err := c.store.AppendMessage(persistCtx, assistant); err != nil {
		return c.fail(sink, &PersistenceError{Op: "save assistant message", Err: err})
	}
	c.appendLocal(*assistant)
	sink(Update{Kind: UpdateAssistantMessage, Message: assistant})
	metrics.StreamDuration.Observe(time.Since(start).Seconds())

	if session.IsRPGMode {
		if err := c.applyRPG(persistCtx, session, assistant.Content, sink); err != nil {
			return c.fail(sink, err)
		}
	}

	c.setPhase(PhaseIdle)
	outcome = "ok"
	sink(Update{Kind: UpdateDone})
	c.log.Debug("reply stored",
		zap.String("session", session.ID),
		zap.Int("chars", len(assistant.Content)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Controller) acquire(ctx context.Context, sessionID string) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}
	release, ok, err := c.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return release, nil
}

func (c *Controller) applyRPG(ctx context.Context, session chatmodel.Session, text string, sink Sink) error {
	out := c.machine.Apply(session.RPGState, text)
	if out.Changed {
		if err := c.store.UpdateSessionState(ctx, session.ID, out.State); err != nil {
			return &PersistenceError{Op: "save rpg state", Err: err}
		}
		c.mu.Lock()
		if c.session != nil && c.session.ID == session.ID {
			c.session.RPGState = out.State.Clone()
		}
		c.mu.Unlock()
	}

	for _, ev := range out.Events {
		metrics.RPGEvents.WithLabelValues(string(ev.Kind)).Inc()
		sink(Update{Kind: UpdateRPGEvent, Event: &ev, Notice: ev.Notice()})
	}
	if out.Changed {
		state := out.State.Clone()
		sink(Update{Kind: UpdateState, State: &state})
	}
	return nil
}

// buildRequest loads the character, world and pinned memories for session.
func (c *Controller) buildRequest(ctx context.Context, session chatmodel.Session, transcript []chatmodel.Message, opts SendOptions) (ai.CompletionRequest, error) {
	char, err := c.store.GetCharacter(ctx, session.UserID, session.CharacterID)
	if err != nil {
		return ai.CompletionRequest{}, &PersistenceError{Op: "load character", Err: err}
	}

	var world *character.World
	if char.WorldID != "" {
		w, err := c.store.GetWorld(ctx, session.UserID, char.WorldID)
		switch {
		case err == nil:
			world = &w
		case errors.Is(err, storage.ErrNotFound):
		default:
			return ai.CompletionRequest{}, &PersistenceError{Op: "load world", Err: err}
		}
	}

	entries, err := c.store.ListMemories(ctx, session.UserID, storage.MemoryFilter{
		CharacterID: char.ID,
		WorldID:     char.WorldID,
		PinnedOnly:  true,
	})
	if err != nil {
		return ai.CompletionRequest{}, &PersistenceError{Op: "load memories", Err: err}
	}
	memories := make([]string, 0, len(entries))
	for _, e := range entries {
		memories = append(memories, e.Content)
	}

	safe := c.safeMode
	if opts.SafeMode != nil {
		safe = *opts.SafeMode
	}

	req := ai.CompletionRequest{
		Messages:  ai.TurnsFromMessages(transcript),
		Character: ai.ProfileFromCharacter(char),
		World:     ai.ProfileFromWorld(world),
		Memories:  memories,
		IsRPGMode: session.IsRPGMode,
		SafeMode:  safe,
	}
	if session.IsRPGMode {
		state := session.RPGState.Clone()
		req.RPGState = &state
	}
	return req, nil
}

// fail reports err once through sink and returns the controller to idle.
func (c *Controller) fail(sink Sink, err error) error {
	c.setPhase(PhaseFailed)
	c.log.Warn("send failed", zap.Error(err))
	sink(Update{Kind: UpdateError, Error: userMessage(err)})
	c.setPhase(PhaseIdle)
	return err
}

func userMessage(err error) string {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return "Failed to send message"
	}
	if errors.Is(err, context.Canceled) {
		return "Request canceled"
	}
	return ai.UserMessage(err)
}

func outcomeOf(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "failed"
}

// RollDice rolls notation, records the roll as a system message and emits it
// with a DiceRolled event.
func (c *Controller) RollDice(ctx context.Context, notation string, sink Sink) (chatmodel.Message, error) {
	if sink == nil {
		sink = discard
	}
	notation = strings.TrimSpace(notation)
	if notation == "" {
		return chatmodel.Message{}, ErrBlankDice
	}

	session, _, err := c.begin()
	if err != nil {
		return chatmodel.Message{}, err
	}
	defer c.setPhase(PhaseIdle)

	result := c.machine.Roller().Roll(notation)
	msg := &chatmodel.Message{
		SessionID:  session.ID,
		Role:       chatmodel.RoleSystem,
		Content:    DiceMessage(result.Dice, result.Rolls, result.Total),
		IsDiceRoll: true,
		DiceResult: &result,
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return chatmodel.Message{}, c.fail(sink, &PersistenceError{Op: "save dice roll", Err: err})
	}
	c.appendLocal(*msg)
	metrics.DiceRolls.Inc()

	ev := rpg.Event{Kind: rpg.DiceRolled, Dice: &result}
	sink(Update{Kind: UpdateSystemMessage, Message: msg})
	sink(Update{Kind: UpdateRPGEvent, Event: &ev, Notice: fmt.Sprintf("🎲 Rolled %s: %d", result.Dice, result.Total)})
	return *msg, nil
}

// DiceMessage renders the transcript text of a manual roll.
func DiceMessage(notation string, rolls []int, total int) string {
	parts := make([]string, len(rolls))
	for i, r := range rolls {
		parts[i] = strconv.Itoa(r)
	}
	return fmt.Sprintf("*rolls %s* 🎲 [%s] = **%d**", notation, strings.Join(parts, ", "), total)
}
