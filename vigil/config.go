//nolint:lll // struct tags can't be split
package vigil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultEnvPrefix             = "VIGIL"
	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "vigil.sqlite3"
	DefaultDataDir               = "data"
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultAPIListen             = "127.0.0.1:5000"
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDiscordGatewayIntent  = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	DefaultDiscordCustomStatus   = "watching for triggers"
	DefaultDiscordStartupMessage = "I'm here!"

	// DefaultSendRatePerSecond limits outbound responder sends across all
	// guilds, keeping a misconfigured trigger from hammering the Discord API.
	DefaultSendRatePerSecond = 5
	DefaultSendBurst         = 10

	// DefaultModuleCacheTTL is how long per-guild module enablement rows
	// are cached before being re-read from the database.
	DefaultModuleCacheTTL = time.Minute
)

var DefaultCORSAllowMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodHead,
}

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

// Config is the top-level bot configuration, assembled by cmd/ from
// defaults, config file, environment and flags.
type Config struct {
	// Database connection string (filename for sqlite, DSN for postgres)
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// DataDir is the managed data root. Per-guild responder configuration
	// lives in `<data_dir>/guilds/`, and file attachments referenced by
	// trigger responses must resolve inside this directory.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir" json:"data_dir" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the gateway connection and bot presence
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Responder configures the auto-responder engine
	Responder *ResponderConfig `yaml:"responder" mapstructure:"responder" json:"responder"`
}

// DiscordConfig configures the Discord gateway connection.
type DiscordConfig struct {
	// Token is the bot token
	Token string `yaml:"token" mapstructure:"token" json:"token" binding:"required" log:"[redacted]"`

	// GatewayIntents to request. Message content is required for trigger
	// matching.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is the custom status set when the gateway connects
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// NotificationChannelID, if set, receives StartupMessage on connect
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// LogLevel for Discord-related events
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DiscordGoLogLevel is the log level for the discordgo library itself
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`
}

// APIConfig configures the admin API server.
type APIConfig struct {
	// Listen address, like "127.0.0.1:5000"
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// Secret is the bearer token required on admin endpoints. If empty,
	// the API server is not started.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// CORS configuration for the admin API
	CORS APICORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// LogLevel for API requests
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APICORSConfig is mapped onto [cors.Config].
type APICORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c APICORSConfig) config() cors.Config {
	cfg := cors.DefaultConfig()
	if len(c.AllowOrigins) > 0 {
		cfg.AllowOrigins = c.AllowOrigins
	} else {
		cfg.AllowAllOrigins = true
	}
	if len(c.AllowMethods) > 0 {
		cfg.AllowMethods = c.AllowMethods
	}
	if len(c.AllowHeaders) > 0 {
		cfg.AllowHeaders = c.AllowHeaders
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if c.MaxAge > 0 {
		cfg.MaxAge = c.MaxAge
	}
	return cfg
}

// ResponderConfig configures the auto-responder engine.
type ResponderConfig struct {
	// SendRatePerSecond limits outbound responder sends (token bucket rate)
	SendRatePerSecond float64 `yaml:"send_rate_per_second" mapstructure:"send_rate_per_second" json:"send_rate_per_second" binding:"min=0"`

	// SendBurst is the token bucket burst size for outbound sends
	SendBurst int `yaml:"send_burst" mapstructure:"send_burst" json:"send_burst" binding:"min=0"`

	// ModuleCacheTTL is how long module enablement lookups are cached
	ModuleCacheTTL time.Duration `yaml:"module_cache_ttl" mapstructure:"module_cache_ttl" json:"module_cache_ttl"`
}

// DefaultConfig returns a Config with default values set.
func DefaultConfig() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)

	dbLogLevel := &slog.LevelVar{}
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	discordLogLevel := &slog.LevelVar{}
	discordLogLevel.Set(DefaultDiscordLogLevel)

	discordgoLogLevel := &slog.LevelVar{}
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)

	apiLogLevel := &slog.LevelVar{}
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		DataDir:               DefaultDataDir,
		LogLevel:              logLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
			StartupMessage:    DefaultDiscordStartupMessage,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		API: &APIConfig{
			Listen:   DefaultAPIListen,
			LogLevel: apiLogLevel,
			CORS: APICORSConfig{
				AllowMethods: DefaultCORSAllowMethods,
			},
		},
		Responder: &ResponderConfig{
			SendRatePerSecond: DefaultSendRatePerSecond,
			SendBurst:         DefaultSendBurst,
			ModuleCacheTTL:    DefaultModuleCacheTTL,
		},
	}
}
