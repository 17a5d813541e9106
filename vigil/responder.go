package vigil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ResponderModuleName is the module key checked against per-guild module
// enablement before any trigger is evaluated.
const ResponderModuleName = "autoresponder"

const (
	// cooldownSweepThreshold is the table size past which a cooldown check
	// opportunistically sweeps stale entries.
	cooldownSweepThreshold = 1000

	// cooldownMaxAge is the age past which swept entries are dropped.
	cooldownMaxAge = time.Hour
)

// moduleGate reports whether a feature module is enabled for a guild.
type moduleGate interface {
	ModuleEnabled(guildID string, module string) bool
}

// moduleGateFunc adapts a function to the moduleGate interface.
type moduleGateFunc func(guildID string, module string) bool

func (f moduleGateFunc) ModuleEnabled(guildID, module string) bool {
	return f(guildID, module)
}

// eventRecorder persists an audit record for a handled message.
// Recording is best-effort; failures never affect message handling.
type eventRecorder interface {
	RecordResponderEvent(event ResponderEvent)
}

type cooldownKey struct {
	GuildID string
	Trigger string
	// ActorID is the author ID for user-scoped cooldowns, "" for
	// guild-scoped ones.
	ActorID string
}

// AutoResponder is the per-message orchestrator. It owns the cooldown
// table, the handler registry and the per-guild config cache; all three
// are shared, mutation-guarded state since message handlers run
// concurrently.
type AutoResponder struct {
	logger   *slog.Logger
	configs  *guildConfigStore
	registry *HandlerRegistry
	deliver  *responseDeliverer
	modules  moduleGate
	events   eventRecorder
	session  DiscordSessionHandler

	// botUserID returns the bot's own user ID once the gateway is ready
	botUserID func() string

	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
}

func newAutoResponder(
	session DiscordSessionHandler,
	configs *guildConfigStore,
	registry *HandlerRegistry,
	deliver *responseDeliverer,
	modules moduleGate,
	events eventRecorder,
	botUserID func() string,
	logger *slog.Logger,
) *AutoResponder {
	if logger == nil {
		logger = slog.Default()
	}
	if modules == nil {
		modules = moduleGateFunc(func(string, string) bool { return true })
	}
	if botUserID == nil {
		botUserID = func() string { return "" }
	}
	return &AutoResponder{
		logger:    logger.With(loggerNameKey, "responder"),
		configs:   configs,
		registry:  registry,
		deliver:   deliver,
		modules:   modules,
		events:    events,
		session:   session,
		botUserID: botUserID,
		cooldowns: map[cooldownKey]time.Time{},
	}
}

// HandleMessage is the sole entry point the gateway dispatcher invokes per
// message. It evaluates trigger specs in longest-trigger-first order and
// stops on the first spec that produces a successful send. All failure
// paths degrade to "not handled"; nothing propagates to the caller.
func (a *AutoResponder) HandleMessage(ctx context.Context, m *discordgo.Message) bool {
	if m == nil || m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return false
	}
	content := m.Content
	if strings.TrimSpace(content) == "" {
		return false
	}
	if !a.modules.ModuleEnabled(m.GuildID, ResponderModuleName) {
		return false
	}

	data := a.configs.Load(m.GuildID)
	if len(data) == 0 {
		return false
	}
	triggers, globalSettings := extractConfig(data)
	items := normalizeTriggerItems(triggers, globalSettings)
	if len(items) == 0 {
		return false
	}

	botID := a.botUserID()
	categoryID := a.channelCategoryID(m.ChannelID)
	strippedContent, mentionPrefixed := stripBotMentionPrefix(
		content, m, botID, Settings(globalSettings),
	)

	for i := range items {
		spec := &items[i]
		if ctx.Err() != nil {
			return false
		}
		if a.handleSpec(
			ctx, m, spec, botID, categoryID, content,
			strippedContent, mentionPrefixed,
		) {
			return true
		}
	}
	return false
}

// handleSpec runs the filter/match/limit/cooldown/respond/deliver pipeline
// for one spec, returning whether it fully handled the message.
func (a *AutoResponder) handleSpec(
	ctx context.Context,
	m *discordgo.Message,
	spec *TriggerSpec,
	botID string,
	categoryID string,
	content string,
	strippedContent string,
	mentionPrefixed bool,
) bool {
	if !passesFilters(m, botID, categoryID, spec.Settings) {
		return false
	}

	span, matched := matchTrigger(content, spec.Trigger, spec.Settings)
	matchedContent := content
	if !matched && mentionPrefixed {
		// `@bot trigger text` should work wherever `trigger text` does.
		span, matched = matchTrigger(strippedContent, spec.Trigger, spec.Settings)
		if matched {
			matchedContent = strippedContent
		}
	}
	if !matched {
		return false
	}

	inputText := extractInputText(matchedContent, span, matched, spec.Settings)
	if !checkInputLimits(inputText, spec.Settings) {
		return false
	}

	// Checking the cooldown is also the act of starting its window: a
	// spec that matched but ends up producing no response still consumes
	// the slot, while one rejected by filters or limits never does.
	if !a.checkCooldown(m, spec.Trigger, spec.Settings) {
		return false
	}

	input := ResponderInput{
		Message:  m,
		Trigger:  spec.Trigger,
		Text:     inputText,
		Args:     strings.Fields(inputText),
		Raw:      content,
		Settings: spec.Settings,
	}

	response, overrides := a.resolveResponse(ctx, spec, input)
	if response == nil {
		return false
	}

	finalSettings := mergeSettings(spec.Settings, overrides)

	var handled bool
	for _, item := range coerceResponses(response) {
		if a.deliver.SendResponse(ctx, m, item, finalSettings) {
			handled = true
		}
	}
	if !handled {
		return false
	}

	if finalSettings.Bool("delete_trigger_message") {
		if err := a.session.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
			a.logger.Debug(
				"trigger message delete failed",
				"message_id", m.ID,
				tint.Err(err),
			)
		}
	}

	if a.events != nil {
		a.events.RecordResponderEvent(
			NewResponderEvent(m, spec, resolveTargets(finalSettings)),
		)
	}
	return true
}

// resolveResponse produces the response value for a matched spec: handler
// result first (when configured and resolvable), falling back to the
// spec's static response.
func (a *AutoResponder) resolveResponse(
	ctx context.Context,
	spec *TriggerSpec,
	input ResponderInput,
) (any, Settings) {
	var response any
	overrides := Settings{}

	if spec.Handler != "" {
		if factory := a.registry.Resolve(spec.Handler); factory != nil {
			result := a.registry.Invoke(ctx, spec.Handler, factory, input)
			response, overrides = unwrapHandlerResult(result)
		} else {
			a.logger.Warn("unknown handler", "handler", spec.Handler)
		}
	}
	if response == nil {
		response = spec.Response
	}
	return response, overrides
}

// channelCategoryID returns the parent category of a channel, or "" when
// it can't be determined. Category filters treat unknown as "no category".
func (a *AutoResponder) channelCategoryID(channelID string) string {
	if a.session == nil {
		return ""
	}
	channel, err := a.session.Channel(channelID)
	if err != nil || channel == nil {
		return ""
	}
	return channel.ParentID
}

// checkCooldown reports whether a trigger is allowed to fire, and if so,
// refreshes its cooldown window as a side effect.
func (a *AutoResponder) checkCooldown(
	m *discordgo.Message,
	trigger string,
	settings Settings,
) bool {
	seconds := settings.Float("cooldown_seconds")
	if seconds <= 0 {
		return true
	}

	key := cooldownKey{GuildID: m.GuildID, Trigger: trigger}
	if strings.ToLower(settings.String("cooldown_scope")) != CooldownScopeGuild {
		key.ActorID = m.Author.ID
	}

	window := time.Duration(seconds * float64(time.Second))
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.cooldowns[key]; ok && now.Sub(last) < window {
		return false
	}
	a.cooldowns[key] = now

	if len(a.cooldowns) > cooldownSweepThreshold {
		for k, at := range a.cooldowns {
			if now.Sub(at) > cooldownMaxAge {
				delete(a.cooldowns, k)
			}
		}
	}
	return true
}

// ClearGuildCooldowns removes all cooldown entries for a guild.
func (a *AutoResponder) ClearGuildCooldowns(guildID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.cooldowns {
		if k.GuildID == guildID {
			delete(a.cooldowns, k)
		}
	}
}

// ClearAllCooldowns empties the cooldown table.
func (a *AutoResponder) ClearAllCooldowns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cooldowns = map[cooldownKey]time.Time{}
}

// ClearHandlerCache drops the handler resolution cache.
func (a *AutoResponder) ClearHandlerCache() {
	a.registry.ClearCache()
}

// InvalidateGuildConfig drops the cached config document for a guild.
func (a *AutoResponder) InvalidateGuildConfig(guildID string) {
	a.configs.Invalidate(guildID)
}
