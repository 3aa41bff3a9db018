package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/ark"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-tavern/rpg/internal/config"
)

// NewUpstream builds the upstream selected by cfg.Provider.
func NewUpstream(ctx context.Context, cfg config.AIConfig, client *http.Client) (Upstream, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: provider %s", ErrNotConfigured, cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderArk, config.ProviderOpenAI:
		chatModel, name, err := NewChatModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &ModelUpstream{Model: chatModel, ModelName: name}, nil
	default:
		return &GatewayUpstream{
			URL:       cfg.GatewayURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Client:    client,
		}, nil
	}
}

// NewChatModel 使用配置创建一个 eino 模型实例，返回模型名称用于帧编码。
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, string, error) {
	var maxTokens *int
	if cfg.MaxTokens > 0 {
		v := cfg.MaxTokens
		maxTokens = &v
	}

	switch cfg.Provider {
	case config.ProviderArk:
		m, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     cfg.Ark.BaseURL,
			Region:      cfg.Ark.Region,
			APIKey:      cfg.Ark.APIKey,
			AccessKey:   cfg.Ark.AccessKey,
			SecretKey:   cfg.Ark.SecretKey,
			Model:       cfg.Ark.Model,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create ark chat model: %w", err)
		}
		return m, cfg.Ark.Model, nil
	case config.ProviderOpenAI:
		m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create openai chat model: %w", err)
		}
		return m, cfg.OpenAI.Model, nil
	default:
		return nil, "", fmt.Errorf("provider %s has no chat model", cfg.Provider)
	}
}
