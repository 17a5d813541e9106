package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// DiscordSessionHandler defines the subset of discordgo.Session used by
// this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSendComplex sends a message to the given channel,
	// including embeds, files, references and allowed-mention controls
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageDelete deletes a message from the given channel
	ChannelMessageDelete(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error

	// ChannelTyping shows a typing indicator in the given channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// UserChannelCreate opens (or reuses) a DM channel with the given user
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// Channel returns channel metadata (used for category lookups)
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// GuildRoles lists a guild's roles (used to validate mention_roles)
	GuildRoles(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Role, error)

	// UpdateCustomStatus sets the bot's custom status. If empty, removes
	// any existing custom status.
	UpdateCustomStatus(status string) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, options...)
	if err != nil {
		d.logger.Warn(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	// Prefer gateway state, fall back to the REST API.
	if d.session.State != nil {
		if ch, err := d.session.State.Channel(channelID); err == nil {
			return ch, nil
		}
	}
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) GuildRoles(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	if d.session.State != nil {
		if guild, err := d.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
			return guild.Roles, nil
		}
	}
	return d.session.GuildRoles(guildID, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// Discord manages the gateway connection and routes message-create events
// into the responder engine.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	botUserID             atomic.Value
	connected             atomic.Bool
	metricConnects        atomic.Int64
	metricDisconnects     atomic.Int64
	metricMessagesHandled atomic.Int64

	removeHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		config:             config,
		logger:             logger.With(loggerNameKey, "discord"),
		removeHandlerFuncs: []func(){},
	}
}

// newSession initializes the underlying discordgo session.
func (d *Discord) newSession(ctx context.Context, handler slog.Handler) (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.Identify.Intents = d.config.GatewayIntents
	discordgo.Logger = discordgoLoggerFunc(ctx, handler)
	disc.LogLevel = discordgoLogLevel(d.config.DiscordGoLogLevel.Level())
	session.session = disc
	return session, nil
}

func discordgoLogLevel(lvl slog.Level) int {
	switch lvl {
	case slog.LevelDebug:
		return discordgo.LogDebug
	case slog.LevelInfo:
		return discordgo.LogInformational
	case slog.LevelError:
		return discordgo.LogError
	default:
		return discordgo.LogWarning
	}
}

// BotUserID returns the bot's own user ID, once known (set on Ready).
func (d *Discord) BotUserID() string {
	v, _ := d.botUserID.Load().(string)
	return v
}

func (d *Discord) handlerReady() func(*discordgo.Session, *discordgo.Ready) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUserID.Store(r.User.ID)
		}
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", r.User.ID, "username", r.User.Username),
		)
	}
}

func (d *Discord) handlerConnect() func(*discordgo.Session, *discordgo.Connect) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected")

		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Warn("unable to set custom status", tint.Err(err))
			}
		}
		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			_, err := d.session.ChannelMessageSendComplex(
				d.config.NotificationChannelID,
				&discordgo.MessageSend{Content: d.config.StartupMessage},
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			)
			if err != nil {
				d.logger.Error("unable to send startup message", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(*discordgo.Session, *discordgo.Disconnect) {
	return func(*discordgo.Session, *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// handlerMessageCreate routes incoming messages into the responder engine.
// discordgo dispatches handlers concurrently, so everything the engine
// touches is mutation-guarded.
func (d *Discord) handlerMessageCreate(
	ctx context.Context,
	engine *AutoResponder,
) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author != nil && m.Author.ID == d.BotUserID() {
			return
		}
		if engine.HandleMessage(ctx, m.Message) {
			d.metricMessagesHandled.Add(1)
		}
	}
}
