package vigil

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API is the admin surface for the responder module: inspect a guild's
// normalized triggers, toggle modules, and clear caches/cooldowns.
type API struct {
	config     *APIConfig
	logger     *slog.Logger
	engine     *AutoResponder
	registry   *HandlerRegistry
	configs    *guildConfigStore
	modules    *guildModuleStore
	httpServer *http.Server

	// secretHash is the argon2id hash of the configured API secret,
	// computed once at startup.
	secretHash string
}

func newAPI(
	cfg *APIConfig,
	engine *AutoResponder,
	registry *HandlerRegistry,
	configs *guildConfigStore,
	modules *guildModuleStore,
	logger *slog.Logger,
) (*API, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api := &API{
		config:   cfg,
		logger:   logger.With(loggerNameKey, "api"),
		engine:   engine,
		registry: registry,
		configs:  configs,
		modules:  modules,
	}

	if cfg.Secret != "" {
		hash, err := hashPassword(cfg.Secret)
		if err != nil {
			return nil, err
		}
		api.secretHash = hash
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cfg.CORS.config()))
	api.registerRoutes(router)

	api.httpServer = &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}
	return api, nil
}

func (a *API) registerRoutes(router *gin.Engine) {
	router.GET("/health", a.getHealth)

	authed := router.Group("/api", a.requireToken)
	authed.GET("/handlers", a.getHandlers)
	authed.POST("/handlers/cache/clear", a.clearHandlerCache)
	authed.DELETE("/cooldowns", a.clearAllCooldowns)
	authed.GET("/guilds/:guild_id/triggers", a.getGuildTriggers)
	authed.POST("/guilds/:guild_id/config/reload", a.reloadGuildConfig)
	authed.DELETE("/guilds/:guild_id/cooldowns", a.clearGuildCooldowns)
	authed.PUT("/guilds/:guild_id/modules/:module", a.setGuildModule)
}

// requireToken enforces `Authorization: Bearer <secret>` on admin routes.
func (a *API) requireToken(c *gin.Context) {
	if a.secretHash == "" {
		c.AbortWithStatusJSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "admin api secret not configured"},
		)
		return
	}
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		c.AbortWithStatusJSON(
			http.StatusUnauthorized,
			gin.H{"error": "missing bearer token"},
		)
		return
	}
	ok, err := verifyPassword(a.secretHash, token)
	if err != nil || !ok {
		c.AbortWithStatusJSON(
			http.StatusUnauthorized,
			gin.H{"error": "invalid token"},
		)
		return
	}
	c.Next()
}

func (*API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) getHandlers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"handlers": a.registry.Paths()})
}

func (a *API) clearHandlerCache(c *gin.Context) {
	a.registry.ClearCache()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (a *API) clearAllCooldowns(c *gin.Context) {
	a.engine.ClearAllCooldowns()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// triggerSummary is the API projection of a normalized TriggerSpec.
type triggerSummary struct {
	Trigger     string  `json:"trigger"`
	Handler     string  `json:"handler,omitempty"`
	HasResponse bool    `json:"has_response"`
	MatchMode   string  `json:"match_mode"`
	Cooldown    float64 `json:"cooldown_seconds"`
}

func (a *API) getGuildTriggers(c *gin.Context) {
	guildID := c.Param("guild_id")
	data := a.configs.Load(guildID)
	triggers, globalSettings := extractConfig(data)
	items := normalizeTriggerItems(triggers, globalSettings)

	summaries := make([]triggerSummary, 0, len(items))
	for _, spec := range items {
		summaries = append(
			summaries, triggerSummary{
				Trigger:     spec.Trigger,
				Handler:     spec.Handler,
				HasResponse: spec.Response != nil,
				MatchMode:   spec.Settings.String("match_mode"),
				Cooldown:    spec.Settings.Float("cooldown_seconds"),
			},
		)
	}
	c.JSON(
		http.StatusOK, gin.H{
			"guild_id": guildID,
			"triggers": summaries,
		},
	)
}

func (a *API) reloadGuildConfig(c *gin.Context) {
	guildID := c.Param("guild_id")
	a.engine.InvalidateGuildConfig(guildID)
	c.JSON(http.StatusOK, gin.H{"guild_id": guildID, "reloaded": true})
}

func (a *API) clearGuildCooldowns(c *gin.Context) {
	guildID := c.Param("guild_id")
	a.engine.ClearGuildCooldowns(guildID)
	c.JSON(http.StatusOK, gin.H{"guild_id": guildID, "cleared": true})
}

type setModuleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (a *API) setGuildModule(c *gin.Context) {
	guildID := c.Param("guild_id")
	module := c.Param("module")

	var req setModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.modules.SetModuleEnabled(guildID, module, *req.Enabled); err != nil {
		a.logger.Error("failed to set module", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(
		http.StatusOK, gin.H{
			"guild_id": guildID,
			"module":   module,
			"enabled":  *req.Enabled,
		},
	)
}
