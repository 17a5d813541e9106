package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// responseBody is the parsed, deliverable form of a response value.
// Attachments are kept as specs rather than open readers so each target
// send opens its own file handles.
type responseBody struct {
	content string
	// hasContent distinguishes "no text part at all" (embed/file-only
	// responses, which don't get prefix/suffix wrapping) from empty text
	hasContent bool
	embeds     []*discordgo.MessageEmbed
	files      []fileSpec
}

type fileSpec struct {
	path    string
	name    string
	spoiler bool
}

func (b responseBody) empty() bool {
	return b.content == "" && len(b.embeds) == 0 && len(b.files) == 0
}

// responseDeliverer turns response values into outbound sends across the
// configured targets.
type responseDeliverer struct {
	session DiscordSessionHandler
	logger  *slog.Logger
	limiter *rate.Limiter

	// dataDir is the managed data root; file attachments must resolve
	// inside it.
	dataDir string
}

func newResponseDeliverer(
	session DiscordSessionHandler,
	dataDir string,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *responseDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &responseDeliverer{
		session: session,
		logger:  logger.With(loggerNameKey, "responder_delivery"),
		limiter: limiter,
		dataDir: dataDir,
	}
}

// coerceResponses ensures a response value is a list of responses.
func coerceResponses(value any) []any {
	if list, ok := value.([]any); ok {
		return list
	}
	return []any{value}
}

// resolveTargets resolves the delivery target list from settings.
// "response_targets" (list or single string) overrides "response_mode";
// "ephemeral" aliases to "dm"; unrecognized configuration falls back to
// the origin channel.
func resolveTargets(settings Settings) []string {
	var raw []any
	switch targets := settings["response_targets"].(type) {
	case string:
		raw = []any{targets}
	case []string:
		raw = make([]any, 0, len(targets))
		for _, target := range targets {
			raw = append(raw, target)
		}
	case []any:
		raw = targets
	}
	if len(raw) == 0 {
		mode := settings.String("response_mode")
		if mode == "" {
			mode = ResponseTargetChannel
		}
		raw = []any{mode}
	}

	normalized := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "ephemeral" {
			key = ResponseTargetDM
		}
		switch key {
		case ResponseTargetChannel, ResponseTargetReply, ResponseTargetDM:
			normalized = append(normalized, key)
		}
	}
	if len(normalized) == 0 {
		return []string{ResponseTargetChannel}
	}
	return normalized
}

// buildEmbeds converts a decoded "embed"/"embeds" config value into
// discordgo embeds.
func buildEmbeds(value any) []*discordgo.MessageEmbed {
	switch v := value.(type) {
	case map[string]any:
		return []*discordgo.MessageEmbed{mapToEmbed(v)}
	case []any:
		embeds := make([]*discordgo.MessageEmbed, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				embeds = append(embeds, mapToEmbed(m))
			}
		}
		return embeds
	default:
		return nil
	}
}

// mapToEmbed maps the recognized subset of Discord's embed object shape.
func mapToEmbed(m map[string]any) *discordgo.MessageEmbed {
	s := Settings(m)
	embed := &discordgo.MessageEmbed{
		Title:       s.String("title"),
		Description: s.String("description"),
		URL:         s.String("url"),
		Color:       s.Int("color"),
	}
	if footer, ok := m["footer"].(map[string]any); ok {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    Settings(footer).String("text"),
			IconURL: Settings(footer).String("icon_url"),
		}
	}
	if image, ok := m["image"].(map[string]any); ok {
		embed.Image = &discordgo.MessageEmbedImage{
			URL: Settings(image).String("url"),
		}
	}
	if thumb, ok := m["thumbnail"].(map[string]any); ok {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{
			URL: Settings(thumb).String("url"),
		}
	}
	if author, ok := m["author"].(map[string]any); ok {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    Settings(author).String("name"),
			URL:     Settings(author).String("url"),
			IconURL: Settings(author).String("icon_url"),
		}
	}
	if fields, ok := m["fields"].([]any); ok {
		for _, item := range fields {
			field, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			embed.Fields = append(
				embed.Fields, &discordgo.MessageEmbedField{
					Name:   Settings(field).String("name"),
					Value:  Settings(field).String("value"),
					Inline: Settings(field).Bool("inline"),
				},
			)
		}
	}
	return embed
}

// buildFileSpecs resolves a "files" config value into attachment specs.
// Entries are bare relative path strings or {path, filename, spoiler}
// objects; any path escaping the data root is silently skipped.
func (r *responseDeliverer) buildFileSpecs(value any) []fileSpec {
	list, ok := value.([]any)
	if !ok {
		return nil
	}

	specs := make([]fileSpec, 0, len(list))
	for _, item := range list {
		var pathStr, filename string
		var spoiler bool

		switch v := item.(type) {
		case string:
			pathStr = v
		case map[string]any:
			pathStr = Settings(v).String("path")
			filename = strings.TrimSpace(Settings(v).String("filename"))
			spoiler = Settings(v).Bool("spoiler")
		}

		if pathStr == "" || !isSafeRelativePath(pathStr) {
			continue
		}
		full := filepath.Join(r.dataDir, filepath.FromSlash(pathStr))
		if _, err := os.Stat(full); err != nil {
			continue
		}
		if filename == "" {
			filename = filepath.Base(full)
		}
		specs = append(
			specs, fileSpec{
				path:    full,
				name:    filename,
				spoiler: spoiler,
			},
		)
	}
	return specs
}

// parseResponse converts a response value into a responseBody. Strings
// become sanitized content; maps may carry content, embed(s) and files.
// Anything else is undeliverable.
func (r *responseDeliverer) parseResponse(response any) (responseBody, bool) {
	switch v := response.(type) {
	case string:
		return responseBody{content: sanitizeText(v), hasContent: true}, true
	case map[string]any:
		var body responseBody
		if content, ok := v["content"].(string); ok {
			body.content = sanitizeText(content)
			body.hasContent = true
		}
		if embed, ok := v["embed"]; ok {
			body.embeds = buildEmbeds(embed)
		} else if embeds, ok := v["embeds"]; ok {
			body.embeds = buildEmbeds(embeds)
		}
		body.files = r.buildFileSpecs(v["files"])
		return body, true
	default:
		return responseBody{}, false
	}
}

// buildMentions assembles the mention prefix text and the allowed-mentions
// controls for the outgoing message.
func (r *responseDeliverer) buildMentions(
	m *discordgo.Message,
	settings Settings,
) (string, *discordgo.MessageAllowedMentions) {
	var mentionParts []string
	allowed := &discordgo.MessageAllowedMentions{
		Parse:       []discordgo.AllowedMentionType{},
		RepliedUser: settings.Bool("reply_ping_author"),
	}

	if settings.Bool("mention_user") && m.Author != nil {
		mentionParts = append(mentionParts, fmt.Sprintf("<@%s>", m.Author.ID))
		allowed.Users = []string{m.Author.ID}
	}

	if m.GuildID != "" {
		configured := settings.IDList("mention_roles")
		if len(configured) > 0 {
			var validRoles []string
			roles, err := r.session.GuildRoles(m.GuildID)
			if err != nil {
				r.logger.Warn(
					"role lookup failed",
					"guild_id", m.GuildID,
					tint.Err(err),
				)
			}
			for _, roleID := range configured {
				for _, role := range roles {
					if role != nil && role.ID == roleID {
						validRoles = append(validRoles, roleID)
						break
					}
				}
			}
			if len(validRoles) > 0 {
				for _, roleID := range validRoles {
					mentionParts = append(
						mentionParts, fmt.Sprintf("<@&%s>", roleID),
					)
				}
				allowed.Roles = validRoles
			}
		}
	}

	return strings.TrimSpace(strings.Join(mentionParts, " ")), allowed
}

// SendResponse delivers a single response value per the trigger settings,
// returning whether any target succeeded. Individual target failures are
// swallowed; only context cancellation aborts early.
func (r *responseDeliverer) SendResponse(
	ctx context.Context,
	m *discordgo.Message,
	response any,
	settings Settings,
) bool {
	if response == nil {
		return false
	}

	body, ok := r.parseResponse(response)
	if !ok {
		return false
	}

	mentionText, allowedMentions := r.buildMentions(m, settings)

	if body.hasContent {
		body.content = fmt.Sprintf(
			"%s%s%s",
			settings.String("response_prefix"),
			body.content,
			settings.String("response_suffix"),
		)
	}
	if mentionText != "" {
		body.content = strings.TrimSpace(
			fmt.Sprintf("%s %s", mentionText, body.content),
		)
	}

	if body.empty() {
		return false
	}

	if delay := settings.Float("delay_seconds"); delay > 0 {
		timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}

	var handled bool
	for _, target := range resolveTargets(settings) {
		if ctx.Err() != nil {
			return handled
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return handled
		}

		var err error
		switch target {
		case ResponseTargetDM:
			err = r.sendDM(ctx, m, body, allowedMentions, settings)
		case ResponseTargetReply:
			err = r.sendReply(m, body, allowedMentions, settings)
		default:
			err = r.sendChannel(m, body, allowedMentions, settings)
		}
		if err != nil {
			r.logger.Warn(
				"target send failed",
				"target", target,
				"channel_id", m.ChannelID,
				tint.Err(err),
			)
			continue
		}
		handled = true
	}
	return handled
}

// messageSend builds the outgoing payload, opening attachment files. The
// returned cleanup func closes them; discordgo reads but never closes
// File.Reader, so callers must invoke it once the send returns.
func (r *responseDeliverer) messageSend(
	body responseBody,
	allowedMentions *discordgo.MessageAllowedMentions,
) (*discordgo.MessageSend, func()) {
	send := &discordgo.MessageSend{
		Content:         body.content,
		Embeds:          body.embeds,
		AllowedMentions: allowedMentions,
	}
	var opened []*os.File
	for _, spec := range body.files {
		f, err := os.Open(spec.path)
		if err != nil {
			r.logger.Warn("attachment open failed", "path", spec.path, tint.Err(err))
			continue
		}
		opened = append(opened, f)
		name := spec.name
		if spec.spoiler && !strings.HasPrefix(name, "SPOILER_") {
			name = "SPOILER_" + name
		}
		send.Files = append(
			send.Files, &discordgo.File{
				Name:   name,
				Reader: f,
			},
		)
	}
	return send, func() {
		for _, f := range opened {
			if err := f.Close(); err != nil {
				r.logger.Warn(
					"attachment close failed",
					"path", f.Name(),
					tint.Err(err),
				)
			}
		}
	}
}

func (r *responseDeliverer) sendDM(
	ctx context.Context,
	m *discordgo.Message,
	body responseBody,
	allowedMentions *discordgo.MessageAllowedMentions,
	settings Settings,
) error {
	if m.Author == nil {
		return fmt.Errorf("message has no author")
	}

	dmErr := func() error {
		channel, err := r.session.UserChannelCreate(m.Author.ID)
		if err != nil {
			return err
		}
		send, closeFiles := r.messageSend(body, allowedMentions)
		defer closeFiles()
		_, err = r.session.ChannelMessageSendComplex(channel.ID, send)
		return err
	}()
	if dmErr == nil {
		return nil
	}

	if !settings.BoolDefault("dm_fallback_to_channel", true) {
		return dmErr
	}
	if ctx.Err() != nil {
		return dmErr
	}
	r.logger.Info(
		"dm failed, falling back to channel",
		"user_id", m.Author.ID,
		tint.Err(dmErr),
	)
	send, closeFiles := r.messageSend(body, allowedMentions)
	defer closeFiles()
	_, err := r.session.ChannelMessageSendComplex(m.ChannelID, send)
	return err
}

func (r *responseDeliverer) sendReply(
	m *discordgo.Message,
	body responseBody,
	allowedMentions *discordgo.MessageAllowedMentions,
	settings Settings,
) error {
	if settings.Bool("typing") {
		if err := r.session.ChannelTyping(m.ChannelID); err != nil {
			r.logger.Debug("typing indicator failed", tint.Err(err))
		}
	}
	send, closeFiles := r.messageSend(body, allowedMentions)
	defer closeFiles()
	send.Reference = &discordgo.MessageReference{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
	}
	_, err := r.session.ChannelMessageSendComplex(m.ChannelID, send)
	return err
}

func (r *responseDeliverer) sendChannel(
	m *discordgo.Message,
	body responseBody,
	allowedMentions *discordgo.MessageAllowedMentions,
	settings Settings,
) error {
	if settings.Bool("typing") {
		if err := r.session.ChannelTyping(m.ChannelID); err != nil {
			r.logger.Debug("typing indicator failed", tint.Err(err))
		}
	}
	send, closeFiles := r.messageSend(body, allowedMentions)
	defer closeFiles()
	_, err := r.session.ChannelMessageSendComplex(m.ChannelID, send)
	return err
}
