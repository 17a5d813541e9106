package vigil

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg.Discord)
	require.NotNil(t, cfg.API)
	require.NotNil(t, cfg.Responder)

	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(
		t, float64(DefaultSendRatePerSecond), cfg.Responder.SendRatePerSecond,
	)
	assert.Equal(t, DefaultModuleCacheTTL, cfg.Responder.ModuleCacheTTL)

	// Trigger matching is impossible without message content.
	assert.NotZero(
		t, cfg.Discord.GatewayIntents&discordgo.IntentMessageContent,
	)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "bot-token"
	require.NoError(t, structValidator.Struct(cfg))

	cfg.Database = ""
	assert.Error(t, structValidator.Struct(cfg))

	cfg = DefaultConfig()
	cfg.Discord.Token = "bot-token"
	cfg.DatabaseType = "oracle"
	assert.Error(t, structValidator.Struct(cfg))

	cfg = DefaultConfig()
	cfg.Discord.Token = ""
	assert.Error(t, structValidator.Struct(cfg))
}

func TestAPICORSConfig(t *testing.T) {
	corsCfg := APICORSConfig{}.config()
	assert.True(t, corsCfg.AllowAllOrigins)
	assert.Contains(t, corsCfg.AllowHeaders, "Authorization")

	corsCfg = APICORSConfig{
		AllowOrigins: []string{"https://admin.example.com"},
		AllowMethods: []string{"GET"},
	}.config()
	assert.False(t, corsCfg.AllowAllOrigins)
	assert.Equal(
		t, []string{"https://admin.example.com"}, corsCfg.AllowOrigins,
	)
	assert.Equal(t, []string{"GET"}, corsCfg.AllowMethods)
}
