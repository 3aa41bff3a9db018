package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderGateway, cfg.AI.Provider)
	assert.Equal(t, "google/gemini-2.5-flash", cfg.AI.Model)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Chat.LockTTL)
	assert.True(t, cfg.Chat.SafeModeDefault)
	assert.False(t, cfg.AI.Enabled())
}

func TestParsePortForms(t *testing.T) {
	cases := map[string]string{
		"9090":           ":9090",
		":7000":          ":7000",
		"127.0.0.1:8081": "127.0.0.1:8081",
	}
	for port, want := range cases {
		t.Run(port, func(t *testing.T) {
			t.Setenv("PORT", port)
			cfg, err := Parse()
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Server.Addr)
		})
	}
}

func TestParseRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "80 80")

	_, err := Parse()
	assert.Error(t, err)
}

func TestParseRejectsUnknownProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "carrier-pigeon")

	_, err := Parse()
	assert.Error(t, err)
}

func TestParseRequiresDSNForSQL(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")

	_, err := Parse()
	assert.Error(t, err)

	t.Setenv("DB_DSN", "file::memory:?cache=shared")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
}

func TestAIEnabledPerProvider(t *testing.T) {
	gateway := AIConfig{Provider: ProviderGateway, GatewayURL: "http://x", APIKey: "k"}
	assert.True(t, gateway.Enabled())

	ark := AIConfig{Provider: ProviderArk, Ark: ArkConfig{Model: "ep-1", AccessKey: "a"}}
	assert.False(t, ark.Enabled())
	ark.Ark.SecretKey = "s"
	assert.True(t, ark.Enabled())

	oa := AIConfig{Provider: ProviderOpenAI}
	assert.False(t, oa.Enabled())
}

func TestParseRejectsMalformedDuration(t *testing.T) {
	t.Setenv("CHAT_LOCK_TTL", "forever")

	_, err := Parse()
	assert.Error(t, err)
}
