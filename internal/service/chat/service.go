package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	chatmodel "github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

// Service 管理会话、记忆以及每个会话的 Controller。
type Service struct {
	store    storage.Store
	registry *Registry
	log      *zap.Logger
}

// Config 聚合 Service 的依赖。
type Config struct {
	Store     storage.Store
	Completer Completer
	Machine   *rpg.Machine
	Locker    Locker
	Logger    *zap.Logger
	SafeMode  bool
	// CacheLimit 为缓存的 Controller 上限，0 使用默认值。
	CacheLimit int
}

// NewService 创建聊天服务。
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	machine := cfg.Machine
	if machine == nil {
		machine = rpg.NewMachine(nil)
	}
	build := func() *Controller {
		return NewController(ControllerConfig{
			Store:     cfg.Store,
			Completer: cfg.Completer,
			Machine:   machine,
			Locker:    cfg.Locker,
			Logger:    log,
			SafeMode:  cfg.SafeMode,
		})
	}
	return &Service{
		store:    cfg.Store,
		registry: NewRegistry(cfg.Store, cfg.CacheLimit, build),
		log:      log,
	}
}

// SessionDetail 是会话及其完整聊天记录。
type SessionDetail struct {
	Session  chatmodel.Session   `json:"session"`
	Messages []chatmodel.Message `json:"messages"`
	Phase    Phase               `json:"phase"`
}

// CreateSession 为角色新建会话，标题为 "Chat N"。
func (s *Service) CreateSession(ctx context.Context, userID, characterID string) (chatmodel.Session, error) {
	if strings.TrimSpace(characterID) == "" {
		return chatmodel.Session{}, ErrCharacterRequired
	}
	char, err := s.store.GetCharacter(ctx, userID, characterID)
	if err != nil {
		return chatmodel.Session{}, err
	}
	existing, err := s.store.ListSessions(ctx, userID, characterID)
	if err != nil {
		return chatmodel.Session{}, err
	}

	state := rpg.Inert()
	if char.IsRPGEnabled {
		state = rpg.NewState(char.Stats().MaxHP)
	}
	session := &chatmodel.Session{
		UserID:      userID,
		CharacterID: characterID,
		Title:       fmt.Sprintf("Chat %d", len(existing)+1),
		IsRPGMode:   char.IsRPGEnabled,
		RPGState:    state,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return chatmodel.Session{}, err
	}
	s.log.Info("session created",
		zap.String("session", session.ID),
		zap.String("character", characterID),
		zap.Bool("rpg", session.IsRPGMode))
	return *session, nil
}

// ListSessions 返回角色的会话，最近活跃的在前。
func (s *Service) ListSessions(ctx context.Context, userID, characterID string) ([]chatmodel.Session, error) {
	return s.store.ListSessions(ctx, userID, characterID)
}

// GetSession 返回会话详情，数据来自其 Controller。
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (SessionDetail, error) {
	c, release, err := s.registry.Acquire(ctx, userID, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	defer release()
	snap := c.Snapshot()
	return SessionDetail{Session: *snap.Session, Messages: snap.Messages, Phase: snap.Phase}, nil
}

// DeleteSession 删除会话及其消息。
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := s.store.DeleteSession(ctx, userID, sessionID); err != nil {
		return err
	}
	s.registry.Evict(sessionID)
	return nil
}

// Controller 租用会话的 Controller，不再使用时必须调用 release。
func (s *Service) Controller(ctx context.Context, userID, sessionID string) (*Controller, func(), error) {
	return s.registry.Acquire(ctx, userID, sessionID)
}

// SendMessage 通过会话的 Controller 发送消息。
func (s *Service) SendMessage(ctx context.Context, userID, sessionID, text string, opts SendOptions, sink Sink) error {
	c, release, err := s.registry.Acquire(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return c.SendMessage(ctx, text, opts, sink)
}

// RollDice 在会话中手动掷骰。
func (s *Service) RollDice(ctx context.Context, userID, sessionID, notation string, sink Sink) (chatmodel.Message, error) {
	c, release, err := s.registry.Acquire(ctx, userID, sessionID)
	if err != nil {
		return chatmodel.Message{}, err
	}
	defer release()
	return c.RollDice(ctx, notation, sink)
}

// AddMemory 为角色添加一条置顶记忆，world_id 取自角色。
func (s *Service) AddMemory(ctx context.Context, userID, characterID, content string) (chatmodel.MemoryEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chatmodel.MemoryEntry{}, ErrMemoryRequired
	}
	char, err := s.store.GetCharacter(ctx, userID, characterID)
	if err != nil {
		return chatmodel.MemoryEntry{}, err
	}
	entry := &chatmodel.MemoryEntry{
		UserID:      userID,
		CharacterID: char.ID,
		WorldID:     char.WorldID,
		Content:     content,
		Category:    chatmodel.DefaultMemoryCategory,
		IsPinned:    true,
	}
	if err := s.store.AddMemory(ctx, entry); err != nil {
		return chatmodel.MemoryEntry{}, err
	}
	return *entry, nil
}

// ListMemories 返回角色可见的置顶记忆，最新的在前。
func (s *Service) ListMemories(ctx context.Context, userID, characterID string) ([]chatmodel.MemoryEntry, error) {
	char, err := s.store.GetCharacter(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMemories(ctx, userID, storage.MemoryFilter{
		CharacterID: char.ID,
		WorldID:     char.WorldID,
		PinnedOnly:  true,
	})
}

// DeleteMemory 删除一条记忆。
func (s *Service) DeleteMemory(ctx context.Context, userID, id string) error {
	return s.store.DeleteMemory(ctx, userID, id)
}
