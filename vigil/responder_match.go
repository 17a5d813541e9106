package vigil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// matchSpan is a half-open [Start, End) byte range in the matched content.
type matchSpan struct {
	Start int
	End   int
}

// matchTrigger matches a trigger against message content, returning the
// matched span and whether it matched.
//
// Supported modes (settings key "match_mode"):
//   - startswith: content starts with the trigger
//   - equals: content exactly equals the trigger
//   - contains: first occurrence of the trigger anywhere in the content
//   - regex: the trigger is a pattern searched against the original content
//
// All modes except regex are case-normalized unless "case_sensitive" is
// set; regex instead toggles the (?i) flag. Invalid patterns never match.
func matchTrigger(content, trigger string, settings Settings) (matchSpan, bool) {
	mode := settings.String("match_mode")
	if mode == "" {
		mode = settings.String("match")
	}
	if mode == "" {
		mode = MatchModeStartsWith
	}
	caseSensitive := settings.Bool("case_sensitive")

	haystack := content
	needle := trigger
	if !caseSensitive {
		haystack = strings.ToLower(content)
		needle = strings.ToLower(trigger)
	}

	switch mode {
	case MatchModeEquals:
		if haystack == needle {
			return matchSpan{0, len(content)}, true
		}
		return matchSpan{}, false
	case MatchModeContains:
		idx := strings.Index(haystack, needle)
		if idx == -1 {
			return matchSpan{}, false
		}
		return matchSpan{idx, idx + len(trigger)}, true
	case MatchModeRegex:
		pattern := trigger
		if !caseSensitive {
			pattern = fmt.Sprintf("(?i)%s", pattern)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fail closed: a broken pattern is simply "no match".
			return matchSpan{}, false
		}
		loc := re.FindStringIndex(content)
		if loc == nil {
			return matchSpan{}, false
		}
		return matchSpan{loc[0], loc[1]}, true
	default:
		if strings.HasPrefix(haystack, needle) {
			return matchSpan{0, len(trigger)}, true
		}
		return matchSpan{}, false
	}
}

// passesFilters evaluates all configured allow/block predicates for a
// message. Empty filter lists impose no constraint; when an ID appears in
// both an allow-list and a block-list, the block wins.
func passesFilters(
	m *discordgo.Message,
	botUserID string,
	categoryID string,
	settings Settings,
) bool {
	if m == nil || m.Author == nil {
		return false
	}

	if settings.Bool("require_mention") {
		if botUserID == "" || !messageMentionsUser(m, botUserID) {
			return false
		}
	}

	authorID := m.Author.ID
	if allowed := settings.IDList("allowed_user_ids"); len(allowed) > 0 &&
		!containsString(allowed, authorID) {
		return false
	}
	if blocked := settings.IDList("blocked_user_ids"); len(blocked) > 0 &&
		containsString(blocked, authorID) {
		return false
	}

	if m.GuildID != "" {
		var roleIDs []string
		if m.Member != nil {
			roleIDs = m.Member.Roles
		}
		if allowed := settings.IDList("allowed_role_ids"); len(allowed) > 0 {
			var hasAllowed bool
			for _, roleID := range roleIDs {
				if containsString(allowed, roleID) {
					hasAllowed = true
					break
				}
			}
			if !hasAllowed {
				return false
			}
		}
		if blocked := settings.IDList("blocked_role_ids"); len(blocked) > 0 {
			for _, roleID := range roleIDs {
				if containsString(blocked, roleID) {
					return false
				}
			}
		}

		if allowed := settings.IDList("allowed_channel_ids"); len(allowed) > 0 &&
			!containsString(allowed, m.ChannelID) {
			return false
		}
		if blocked := settings.IDList("blocked_channel_ids"); len(blocked) > 0 &&
			containsString(blocked, m.ChannelID) {
			return false
		}

		if allowed := settings.IDList("allowed_category_ids"); len(allowed) > 0 &&
			(categoryID == "" || !containsString(allowed, categoryID)) {
			return false
		}
		if blocked := settings.IDList("blocked_category_ids"); len(blocked) > 0 &&
			categoryID != "" && containsString(blocked, categoryID) {
			return false
		}
	}

	return true
}

// extractInputText returns the trigger's input text. With "strip_trigger"
// set (the default), a match anchored at the start yields the remainder
// after the trigger; an unanchored contains/regex match yields the matched
// span itself. Without it, the full trimmed content is returned.
func extractInputText(content string, span matchSpan, matched bool, settings Settings) string {
	if !matched || !settings.BoolDefault("strip_trigger", true) {
		return strings.TrimSpace(content)
	}
	if span.Start == 0 {
		if span.End > len(content) {
			return ""
		}
		return strings.TrimSpace(content[span.End:])
	}
	if span.End > len(content) || span.Start > span.End {
		return ""
	}
	return strings.TrimSpace(content[span.Start:span.End])
}

// stripBotMentionPrefix removes a leading bot mention token from content
// when "allow_mention_prefix" is set and the message actually mentions the
// bot. Returns the stripped content and whether stripping occurred.
func stripBotMentionPrefix(
	content string,
	m *discordgo.Message,
	botUserID string,
	settings Settings,
) (string, bool) {
	if !settings.BoolDefault("allow_mention_prefix", true) {
		return content, false
	}
	if botUserID == "" || !messageMentionsUser(m, botUserID) {
		return content, false
	}

	stripped := strings.TrimLeft(content, " \t\n")
	for _, token := range []string{
		fmt.Sprintf("<@%s>", botUserID),
		fmt.Sprintf("<@!%s>", botUserID),
	} {
		if strings.HasPrefix(stripped, token) {
			return strings.TrimLeft(stripped[len(token):], " \t\n"), true
		}
	}
	return content, false
}

// checkInputLimits enforces the configured word/character bounds on the
// extracted input text. A zero bound is unconstrained.
func checkInputLimits(text string, settings Settings) bool {
	words := strings.Fields(text)

	if minWords := settings.Int("input_min_words"); minWords > 0 && len(words) < minWords {
		return false
	}
	if maxWords := settings.Int("input_max_words"); maxWords > 0 && len(words) > maxWords {
		return false
	}

	chars := len([]rune(text))
	if minChars := settings.Int("input_min_chars"); minChars > 0 && chars < minChars {
		return false
	}
	if maxChars := settings.Int("input_max_chars"); maxChars > 0 && chars > maxChars {
		return false
	}
	return true
}

// messageMentionsUser checks if a given discord message mentions the given
// user ID via @ (not just in the raw content).
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil {
		return false
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.ID == userID {
			return true
		}
	}
	return false
}
