package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AI provider names accepted by AI_PROVIDER.
const (
	ProviderGateway = "gateway"
	ProviderArk     = "ark"
	ProviderOpenAI  = "openai"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Storage StorageConfig
	Redis   RedisConfig
	Chat    ChatConfig
	Log     LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// Addr 由 Port 归一化得到，不直接从环境读取。
	Addr string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string   `env:"AI_PROVIDER" envDefault:"gateway"`
	GatewayURL  string   `env:"AI_GATEWAY_URL" envDefault:"https://ai.gateway.lovable.dev/v1/chat/completions"`
	APIKey      string   `env:"AI_API_KEY"`
	Model       string   `env:"AI_MODEL" envDefault:"google/gemini-2.5-flash"`
	MaxTokens   int      `env:"AI_MAX_TOKENS"`
	Temperature *float32 `env:"AI_TEMPERATURE"`

	Ark    ArkConfig
	OpenAI OpenAIConfig
}

// ArkConfig 描述火山方舟凭证。
type ArkConfig struct {
	APIKey    string `env:"ARK_API_KEY"`
	AccessKey string `env:"ARK_ACCESS_KEY"`
	SecretKey string `env:"ARK_SECRET_KEY"`
	Model     string `env:"ARK_MODEL"`
	BaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region    string `env:"ARK_REGION" envDefault:"cn-beijing"`
}

// OpenAIConfig 描述 OpenAI 兼容接口凭证。
type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
	Model   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"memory"`
	DSN    string `env:"DB_DSN"`
}

// RedisConfig enables the distributed send guard when Addr is set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// ChatConfig holds chat session behaviour.
type ChatConfig struct {
	LockTTL         time.Duration `env:"CHAT_LOCK_TTL" envDefault:"5m"`
	SafeModeDefault bool          `env:"CHAT_SAFE_MODE_DEFAULT" envDefault:"true"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level    string `env:"LOG_LEVEL" envDefault:"info"`
	Encoding string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load 从 .env 与环境变量加载配置。缺少 .env 不是错误。
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse 仅从进程环境解析配置。
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	switch c.AI.Provider {
	case ProviderGateway, ProviderArk, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid AI_PROVIDER value: %q", c.AI.Provider)
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "sqlite3", "mysql", "postgres", "pgx":
		if c.Storage.DSN == "" {
			return fmt.Errorf("DB_DSN is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("invalid DB_DRIVER value: %q", c.Storage.Driver)
	}

	if c.AI.MaxTokens < 0 {
		return fmt.Errorf("invalid AI_MAX_TOKENS value: %d", c.AI.MaxTokens)
	}
	if c.Chat.LockTTL <= 0 {
		return fmt.Errorf("invalid CHAT_LOCK_TTL value: %s", c.Chat.LockTTL)
	}
	return nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// Enabled 表示当前 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Ark.Model != "" && (c.Ark.APIKey != "" || (c.Ark.AccessKey != "" && c.Ark.SecretKey != ""))
	case ProviderOpenAI:
		return c.OpenAI.APIKey != ""
	default:
		return c.GatewayURL != "" && c.APIKey != ""
	}
}
