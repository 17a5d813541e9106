package vigil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordgoLogLevel(t *testing.T) {
	assert.Equal(t, discordgo.LogDebug, discordgoLogLevel(slog.LevelDebug))
	assert.Equal(t, discordgo.LogInformational, discordgoLogLevel(slog.LevelInfo))
	assert.Equal(t, discordgo.LogWarning, discordgoLogLevel(slog.LevelWarn))
	assert.Equal(t, discordgo.LogError, discordgoLogLevel(slog.LevelError))
}

func TestNewSession(t *testing.T) {
	lvl := &slog.LevelVar{}
	lvl.Set(slog.LevelDebug)
	d := newDiscord(
		&DiscordConfig{
			Token:             "bot-token",
			GatewayIntents:    DefaultDiscordGatewayIntent,
			DiscordGoLogLevel: lvl,
		},
		testLogger(t),
	)

	handler := slog.NewTextHandler(io.Discard, nil)
	session, err := d.newSession(context.Background(), handler)
	require.NoError(t, err)

	ds, ok := session.(DiscordSession)
	require.True(t, ok)
	assert.Equal(t, DefaultDiscordGatewayIntent, ds.session.Identify.Intents)
	assert.Equal(t, discordgo.LogDebug, ds.session.LogLevel)
	// discordgo routes its log output through the package-level hook.
	assert.NotNil(t, discordgo.Logger)
}

func TestHandlerMessageCreate(t *testing.T) {
	f := newResponderFixture(t, nil)
	writeGuildConfig(
		t, f.dataDir, testGuildID, map[string]any{"!hi": "Hello!"},
	)

	d := newDiscord(&DiscordConfig{}, testLogger(t))
	d.botUserID.Store(testBotID)
	handler := d.handlerMessageCreate(context.Background(), f.responder)

	// The bot's own messages are dropped before the engine sees them.
	own := newTestMessage("!hi")
	own.Author.ID = testBotID
	handler(nil, &discordgo.MessageCreate{Message: own})
	assert.Empty(t, f.session.sentMessages())
	assert.Zero(t, d.metricMessagesHandled.Load())

	handler(nil, &discordgo.MessageCreate{Message: newTestMessage("!hi")})
	assert.Len(t, f.session.sentMessages(), 1)
	assert.Equal(t, int64(1), d.metricMessagesHandled.Load())

	// Unhandled messages don't count.
	handler(nil, &discordgo.MessageCreate{Message: newTestMessage("nope")})
	assert.Equal(t, int64(1), d.metricMessagesHandled.Load())
}

func TestHandlerConnect(t *testing.T) {
	session := newFakeSession()
	d := newDiscord(
		&DiscordConfig{
			CustomStatus:          "watching",
			NotificationChannelID: "notify-channel",
			StartupMessage:        "I'm here!",
		},
		testLogger(t),
	)
	d.session = session

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "notify-channel", sent[0].ChannelID)
	assert.Equal(t, "I'm here!", sent[0].Data.Content)

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}
