package vigil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Vigil is the main bot struct, wiring configuration, database, Discord
// gateway, admin API and the responder engine together.
type Vigil struct {
	config  *Config
	logger  *slog.Logger
	handler slog.Handler

	db       *gorm.DB
	discord  *Discord
	registry *HandlerRegistry
	engine   *AutoResponder
	api      *API
	modules  *guildModuleStore
}

// New validates the configuration and assembles a Vigil instance. The
// gateway is not opened and the API server not started until Run.
func New(cfg *Config) (*Vigil, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := structValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	handler := newLogHandler(os.Stdout, cfg.LogLevel)
	logger := slog.New(handler).With(loggerNameKey, "vigil")
	slog.SetDefault(slog.New(handler))

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "guilds"), 0o755); err != nil {
		return nil, fmt.Errorf("error creating data dir: %w", err)
	}

	db, err := newDatabase(cfg, handler)
	if err != nil {
		return nil, err
	}

	discordLogger := slog.New(newLogHandler(os.Stdout, cfg.Discord.LogLevel))
	discord := newDiscord(cfg.Discord, discordLogger)

	registry := NewHandlerRegistry(logger)
	configs := newGuildConfigStore(cfg.DataDir, logger)
	modules := newGuildModuleStore(db, cfg.Responder.ModuleCacheTTL, logger)
	events := newResponderEventStore(db, logger)

	v := &Vigil{
		config:   cfg,
		logger:   logger,
		handler:  handler,
		db:       db,
		discord:  discord,
		registry: registry,
		modules:  modules,
	}

	var limiter *rate.Limiter
	if cfg.Responder.SendRatePerSecond > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(cfg.Responder.SendRatePerSecond),
			cfg.Responder.SendBurst,
		)
	}

	// Session and deliverer are bound in Run, once the gateway session
	// exists; the engine is created here so handlers can be registered
	// before startup.
	v.engine = newAutoResponder(
		nil,
		configs,
		registry,
		newResponseDeliverer(nil, cfg.DataDir, limiter, discordLogger),
		modules,
		events,
		discord.BotUserID,
		logger,
	)

	api, err := newAPI(cfg.API, v.engine, registry, configs, modules, logger)
	if err != nil {
		return nil, err
	}
	v.api = api

	return v, nil
}

// Registry exposes the handler registry so embedders can register custom
// responders before calling Run.
func (v *Vigil) Registry() *HandlerRegistry {
	return v.registry
}

// Engine returns the responder engine.
func (v *Vigil) Engine() *AutoResponder {
	return v.engine
}

// Run opens the Discord gateway and the admin API server, blocking until
// the context is canceled, then shuts both down within ShutdownTimeout.
func (v *Vigil) Run(ctx context.Context) error {
	session, err := v.discord.newSession(
		ctx, newLogHandler(os.Stdout, v.config.Discord.DiscordGoLogLevel),
	)
	if err != nil {
		return err
	}
	v.discord.session = session
	v.engine.session = session
	v.engine.deliver.session = session

	v.discord.removeHandlerFuncs = append(
		v.discord.removeHandlerFuncs,
		session.AddHandler(v.discord.handlerReady()),
		session.AddHandler(v.discord.handlerConnect()),
		session.AddHandler(v.discord.handlerDisconnect()),
		session.AddHandler(v.discord.handlerMessageCreate(ctx, v.engine)),
	)

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	v.logger.Info("discord gateway open")

	g, runCtx := errgroup.WithContext(ctx)

	if v.config.API.Secret != "" {
		g.Go(
			func() error {
				v.logger.Info("starting admin api", "listen", v.config.API.Listen)
				serveErr := v.api.httpServer.ListenAndServe()
				if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					return serveErr
				}
				return nil
			},
		)
	} else {
		v.logger.Warn("admin api secret not set, api disabled")
	}

	g.Go(
		func() error {
			<-runCtx.Done()
			v.shutdown()
			return nil
		},
	)

	return g.Wait()
}

func (v *Vigil) shutdown() {
	v.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), v.config.ShutdownTimeout,
	)
	defer cancel()

	if err := v.api.httpServer.Shutdown(shutdownCtx); err != nil {
		v.logger.Warn("api shutdown error", tint.Err(err))
	}

	for _, remove := range v.discord.removeHandlerFuncs {
		remove()
	}
	if v.discord.session != nil {
		if err := v.discord.session.Close(); err != nil {
			v.logger.Warn("discord close error", tint.Err(err))
		}
	}
	v.logger.Info("shutdown complete")
}
