package vigil

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// ModelUintID is the shared auto-increment primary key.
type ModelUintID struct {
	ID uint `gorm:"primarykey" json:"id"`
}

// ModelUnixTime tracks creation/update times as unix milliseconds.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// GuildModule is a per-guild feature module toggle. A guild with no row
// for a module has that module enabled.
type GuildModule struct {
	ModelUintID
	ModelUnixTime
	GuildID string `json:"guild_id" gorm:"uniqueIndex:idx_guild_module;type:string"`
	Module  string `json:"module" gorm:"uniqueIndex:idx_guild_module;type:string"`
	Enabled bool   `json:"enabled" gorm:"not null;default:true"`
}

// ResponderEvent is an audit record of a handled message.
type ResponderEvent struct {
	ModelUintID
	ModelUnixTime
	GuildID   string `json:"guild_id" gorm:"index;type:string"`
	ChannelID string `json:"channel_id" gorm:"type:string"`
	UserID    string `json:"user_id" gorm:"type:string"`
	MessageID string `json:"message_id" gorm:"type:string"`
	Trigger   string `json:"trigger" gorm:"type:string"`
	Handler   string `json:"handler" gorm:"type:string"`
	Targets   string `json:"targets" gorm:"type:string"`
}

func NewResponderEvent(
	m *discordgo.Message,
	spec *TriggerSpec,
	targets []string,
) ResponderEvent {
	event := ResponderEvent{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Trigger:   spec.Trigger,
		Handler:   spec.Handler,
		Targets:   strings.Join(targets, ","),
	}
	if m.Author != nil {
		event.UserID = m.Author.ID
	}
	return event
}

func (e ResponderEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", e.GuildID),
		slog.String("channel_id", e.ChannelID),
		slog.String("user_id", e.UserID),
		slog.String("message_id", e.MessageID),
		slog.String("trigger", e.Trigger),
		slog.String("handler", e.Handler),
		slog.String("targets", e.Targets),
	)
}

type moduleGateEntry struct {
	enabled bool
	at      time.Time
}

// guildModuleStore answers module-enablement checks from the database,
// with a short TTL cache so hot guilds don't hit the database per message.
type guildModuleStore struct {
	db     *gorm.DB
	logger *slog.Logger
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]moduleGateEntry
}

func newGuildModuleStore(
	db *gorm.DB,
	ttl time.Duration,
	logger *slog.Logger,
) *guildModuleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &guildModuleStore{
		db:     db,
		logger: logger.With(loggerNameKey, "guild_modules"),
		ttl:    ttl,
		cache:  map[string]moduleGateEntry{},
	}
}

// ModuleEnabled implements moduleGate. Lookup failures fail open: a
// database outage shouldn't silence the bot.
func (s *guildModuleStore) ModuleEnabled(guildID, module string) bool {
	key := guildID + "/" + module

	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && (s.ttl <= 0 || time.Since(entry.at) < s.ttl) {
		return entry.enabled
	}

	enabled := true
	var row GuildModule
	err := s.db.Where(
		"guild_id = ? AND module = ?", guildID, module,
	).First(&row).Error
	switch {
	case err == nil:
		enabled = row.Enabled
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No row: module defaults to enabled.
	default:
		s.logger.Warn(
			"module lookup failed",
			"guild_id", guildID,
			"module", module,
			tint.Err(err),
		)
		return true
	}

	s.mu.Lock()
	s.cache[key] = moduleGateEntry{enabled: enabled, at: time.Now()}
	s.mu.Unlock()
	return enabled
}

// SetModuleEnabled upserts the toggle row and refreshes the cache.
func (s *guildModuleStore) SetModuleEnabled(
	guildID string,
	module string,
	enabled bool,
) error {
	var row GuildModule
	err := s.db.Where(
		"guild_id = ? AND module = ?", guildID, module,
	).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = GuildModule{GuildID: guildID, Module: module, Enabled: enabled}
		err = s.db.Create(&row).Error
	case err == nil:
		err = s.db.Model(&row).Update("enabled", enabled).Error
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[guildID+"/"+module] = moduleGateEntry{
		enabled: enabled,
		at:      time.Now(),
	}
	s.mu.Unlock()
	return nil
}

// responderEventStore persists audit rows for handled messages.
type responderEventStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func newResponderEventStore(db *gorm.DB, logger *slog.Logger) *responderEventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &responderEventStore{
		db:     db,
		logger: logger.With(loggerNameKey, "responder_events"),
	}
}

// RecordResponderEvent implements eventRecorder. Best-effort only.
func (s *responderEventStore) RecordResponderEvent(event ResponderEvent) {
	if err := s.db.Create(&event).Error; err != nil {
		s.logger.Warn("failed to record responder event", "event", event, tint.Err(err))
	}
}
