package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vigilbot/vigil/vigil"
)

var (
	cfg        = vigil.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "vigil [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level strings into *slog.LevelVar
// config fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()
		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// Execute runs the root command, canceling its context on SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env from %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", vigil.DefaultDatabase)
	viper.SetDefault("database_type", vigil.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", vigil.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", vigil.DefaultDatabaseLogLevel.String())
	viper.SetDefault("data_dir", vigil.DefaultDataDir)
	viper.SetDefault("log_level", vigil.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", vigil.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", vigil.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.gateway_intents", vigil.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.custom_status", vigil.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", vigil.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.log_level", vigil.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		vigil.DefaultDiscordgoLogLevel.String(),
	)

	// API config
	viper.SetDefault("api.listen", vigil.DefaultAPIListen)
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", vigil.DefaultAPILogLevel.String())
	viper.SetDefault("api.cors.allow_methods", vigil.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.allow_origins", []string{})

	// Responder config
	viper.SetDefault("responder.send_rate_per_second", vigil.DefaultSendRatePerSecond)
	viper.SetDefault("responder.send_burst", vigil.DefaultSendBurst)
	viper.SetDefault("responder.module_cache_ttl", vigil.DefaultModuleCacheTTL)

	viper.SetEnvPrefix(vigil.DefaultEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		levelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, levelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to use",
	)
}
