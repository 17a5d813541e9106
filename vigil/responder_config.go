package vigil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// guildConfigSuffix is appended to the guild ID to form the per-guild
// responder configuration filename under `<data_dir>/guilds/`.
const guildConfigSuffix = ".autoresponder.json"

// Match modes for trigger evaluation.
const (
	MatchModeStartsWith = "startswith"
	MatchModeEquals     = "equals"
	MatchModeContains   = "contains"
	MatchModeRegex      = "regex"
)

// Response targets.
const (
	ResponseTargetChannel = "channel"
	ResponseTargetReply   = "reply"
	ResponseTargetDM      = "dm"
)

// Cooldown scopes.
const (
	CooldownScopeUser  = "user"
	CooldownScopeGuild = "guild"
)

// Settings is the merged, open key set configured per trigger. Guild
// operators may set arbitrary keys in JSON; the typed accessors below give
// the engine schema-checked reads over the recognized ones.
type Settings map[string]any

// defaultSettings returns a fresh copy of the built-in defaults. Every
// TriggerSpec starts from this full key set, so downstream reads never see
// a missing recognized key.
func defaultSettings() Settings {
	return Settings{
		"enabled":                true,
		"match_mode":             MatchModeStartsWith,
		"case_sensitive":         false,
		"strip_trigger":          true,
		"allow_mention_prefix":   true,
		"require_mention":        false,
		"allowed_user_ids":       []any{},
		"blocked_user_ids":       []any{},
		"allowed_role_ids":       []any{},
		"blocked_role_ids":       []any{},
		"allowed_channel_ids":    []any{},
		"blocked_channel_ids":    []any{},
		"allowed_category_ids":   []any{},
		"blocked_category_ids":   []any{},
		"cooldown_seconds":       0.0,
		"cooldown_scope":         CooldownScopeUser,
		"delete_trigger_message": false,
		"delay_seconds":          0.0,
		"typing":                 false,
		"response_mode":          ResponseTargetChannel,
		"response_targets":       []any{},
		"response_prefix":        "",
		"response_suffix":        "",
		"mention_user":           false,
		"mention_roles":          []any{},
		"reply_ping_author":      false,
		"dm_fallback_to_channel": true,
		"input_min_words":        0.0,
		"input_max_words":        0.0,
		"input_min_chars":        0.0,
		"input_max_chars":        0.0,
	}
}

// truthy applies loose boolean coercion to a decoded config value: false,
// zero, empty strings/collections and null are false, anything else true.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// mergeSettings overlays the given sources left to right, later sources
// overriding earlier ones. Non-map sources are skipped.
func mergeSettings(sources ...map[string]any) Settings {
	merged := Settings{}
	for _, source := range sources {
		for k, v := range source {
			merged[k] = v
		}
	}
	return merged
}

// Bool reads a boolean setting. Missing or non-boolean values are false.
func (s Settings) Bool(key string) bool {
	v, ok := s[key].(bool)
	return ok && v
}

// BoolDefault reads a boolean setting, returning def when the key is
// missing or not a boolean.
func (s Settings) BoolDefault(key string, def bool) bool {
	v, ok := s[key].(bool)
	if !ok {
		return def
	}
	return v
}

// Float reads a numeric setting, accepting JSON numbers, integers and
// numeric strings. Missing or non-numeric values are 0.
func (s Settings) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Int reads an integer setting via Float.
func (s Settings) Int(key string) int {
	return int(s.Float(key))
}

// String reads a string setting. Missing or non-string values are "".
func (s Settings) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// IDList reads a snowflake ID list setting.
func (s Settings) IDList(key string) []string {
	return normalizeIDList(s[key])
}

// TriggerSpec is one normalized trigger rule. Specs are rebuilt on every
// config load and never mutated in place.
type TriggerSpec struct {
	// Trigger is the literal or pattern text matched against messages
	Trigger string

	// Handler is the registered responder identifier, if any
	Handler string

	// Response is the static response payload, used when no handler is
	// set or the handler yields nothing
	Response any

	// Settings is the fully merged settings snapshot for this trigger
	Settings Settings
}

type cachedGuildConfig struct {
	exists  bool
	modTime time.Time
	data    map[string]any
}

// guildConfigStore loads per-guild responder configuration documents from
// the managed data root, cached by file modification time. A cache hit
// requires the file's current mtime to exactly equal the cached one,
// including both being "file missing" - any drift forces a full reread.
type guildConfigStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cachedGuildConfig
}

func newGuildConfigStore(dataDir string, logger *slog.Logger) *guildConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &guildConfigStore{
		dir:     filepath.Join(dataDir, "guilds"),
		logger:  logger.With(loggerNameKey, "responder_config"),
		entries: map[string]cachedGuildConfig{},
	}
}

func (g *guildConfigStore) path(guildID string) string {
	return filepath.Join(g.dir, fmt.Sprintf("%s%s", guildID, guildConfigSuffix))
}

// Load returns the raw responder config document for a guild, or an empty
// map if the file is absent or malformed.
func (g *guildConfigStore) Load(guildID string) map[string]any {
	path := g.path(guildID)

	var exists bool
	var modTime time.Time
	info, err := os.Stat(path)
	switch {
	case err == nil:
		exists = true
		modTime = info.ModTime()
	case os.IsNotExist(err):
		exists = false
	default:
		g.logger.Warn("stat failed", "path", path, tint.Err(err))
		exists = false
	}

	g.mu.Lock()
	cached, ok := g.entries[guildID]
	g.mu.Unlock()
	if ok && cached.exists == exists && cached.modTime.Equal(modTime) {
		return cached.data
	}

	data := map[string]any{}
	if exists {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			g.logger.Warn("config read failed", "path", path, tint.Err(readErr))
		} else {
			var decoded any
			if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
				g.logger.Warn("config parse failed", "path", path, tint.Err(jsonErr))
			} else if asMap, isMap := decoded.(map[string]any); isMap {
				data = asMap
			}
		}
	}

	g.mu.Lock()
	g.entries[guildID] = cachedGuildConfig{
		exists:  exists,
		modTime: modTime,
		data:    data,
	}
	g.mu.Unlock()
	return data
}

// Invalidate drops the cached config for a guild.
func (g *guildConfigStore) Invalidate(guildID string) {
	g.mu.Lock()
	delete(g.entries, guildID)
	g.mu.Unlock()
}

// extractConfig splits a raw config document into triggers and global
// settings. Two shapes are accepted: {"triggers": {...}, "settings": {...}}
// or a bare trigger->value mapping (legacy, settings default to empty).
func extractConfig(data map[string]any) (map[string]any, map[string]any) {
	var triggers, settings any
	if _, hasTriggers := data["triggers"]; hasTriggers {
		triggers = data["triggers"]
		settings = data["settings"]
	} else if _, hasSettings := data["settings"]; hasSettings {
		triggers = data["triggers"]
		settings = data["settings"]
	} else {
		triggers = data
		settings = map[string]any{}
	}

	triggerMap, ok := triggers.(map[string]any)
	if !ok {
		triggerMap = map[string]any{}
	}
	settingsMap, ok := settings.(map[string]any)
	if !ok {
		settingsMap = map[string]any{}
	}
	return triggerMap, settingsMap
}

// buildTriggerSpec normalizes a single trigger entry. The settings snapshot
// is layered: built-in defaults, then guild-global settings, then the
// trigger's own `settings` and `match` objects. Returns nil for disabled
// triggers and for entries with neither handler nor response.
func buildTriggerSpec(
	trigger string,
	value any,
	globalSettings map[string]any,
) *TriggerSpec {
	settings := mergeSettings(defaultSettings(), globalSettings)
	var handler string
	var response any

	if valueMap, ok := value.(map[string]any); ok {
		handlerValue, _ := valueMap["handler"].(string)
		if handlerValue == "" {
			handlerValue, _ = valueMap["class"].(string)
		}
		handler = strings.TrimSpace(handlerValue)

		if triggerSettings, isMap := valueMap["settings"].(map[string]any); isMap {
			settings = mergeSettings(settings, triggerSettings)
		}
		if matchSettings, isMap := valueMap["match"].(map[string]any); isMap {
			settings = mergeSettings(settings, matchSettings)
		}

		if enabled, hasEnabled := valueMap["enabled"]; hasEnabled {
			settings["enabled"] = truthy(enabled)
		}

		if _, hasResponse := valueMap["response"]; hasResponse {
			response = valueMap["response"]
		} else if handler == "" {
			// Shorthand: the whole mapping is the literal response.
			response = valueMap
		}
	} else {
		response = value
	}

	if !settings.BoolDefault("enabled", true) {
		return nil
	}
	if handler == "" && response == nil {
		return nil
	}

	return &TriggerSpec{
		Trigger:  trigger,
		Handler:  handler,
		Response: response,
		Settings: settings,
	}
}

// normalizeTriggerItems builds one spec per non-blank trigger key, ordered
// by trigger length descending so the most specific trigger is evaluated
// first regardless of map iteration order. Equal-length triggers sort
// lexically for determinism.
func normalizeTriggerItems(
	data map[string]any,
	globalSettings map[string]any,
) []TriggerSpec {
	items := make([]TriggerSpec, 0, len(data))
	for key, value := range data {
		trigger := strings.TrimSpace(key)
		if trigger == "" {
			continue
		}
		spec := buildTriggerSpec(trigger, value, globalSettings)
		if spec != nil {
			items = append(items, *spec)
		}
	}

	sort.Slice(
		items, func(i, j int) bool {
			if len(items[i].Trigger) != len(items[j].Trigger) {
				return len(items[i].Trigger) > len(items[j].Trigger)
			}
			return items[i].Trigger < items[j].Trigger
		},
	)
	return items
}
