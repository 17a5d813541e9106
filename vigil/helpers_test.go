package vigil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGuildID   = "100000000000000001"
	testChannelID = "200000000000000001"
	testUserID    = "300000000000000001"
	testBotID     = "400000000000000001"
)

type sentMessage struct {
	ChannelID string
	Data      *discordgo.MessageSend
}

// fakeSession implements DiscordSessionHandler for tests.
type fakeSession struct {
	mu           sync.Mutex
	sent         []sentMessage
	deleted      []string
	typingCalls  []string
	failChannels map[string]bool
	failDM       bool
	channels     map[string]*discordgo.Channel
	roles        map[string][]*discordgo.Role
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		failChannels: map[string]bool{},
		channels:     map[string]*discordgo.Channel{},
		roles:        map[string][]*discordgo.Role{},
	}
}

func (f *fakeSession) Open() error  { return nil }
func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) AddHandler(any) func() { return func() {} }

func (f *fakeSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChannels[channelID] {
		return nil, fmt.Errorf("send failed for channel %s", channelID)
	}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Data: data})
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", len(f.sent))}, nil
}

func (f *fakeSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSession) ChannelTyping(
	channelID string,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCalls = append(f.typingCalls, channelID)
	return nil
}

func dmChannelID(userID string) string {
	return "dm-" + userID
}

func (f *fakeSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	if f.failDM {
		return nil, fmt.Errorf("cannot open dm with %s", recipientID)
	}
	return &discordgo.Channel{
		ID:   dmChannelID(recipientID),
		Type: discordgo.ChannelTypeDM,
	}, nil
}

func (f *fakeSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) GuildRoles(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[guildID], nil
}

func (f *fakeSession) UpdateCustomStatus(string) error { return nil }

func (f *fakeSession) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestMessage(content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "500000000000000001",
		GuildID:   testGuildID,
		ChannelID: testChannelID,
		Content:   content,
		Author:    &discordgo.User{ID: testUserID, Username: "someone"},
		Member:    &discordgo.Member{Roles: []string{}},
	}
}

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(
		slog.NewTextHandler(
			os.Stderr, &slog.HandlerOptions{Level: slog.LevelError},
		),
	)
}

// writeGuildConfig writes a per-guild responder config document under the
// given data dir.
func writeGuildConfig(t testing.TB, dataDir string, guildID string, doc any) string {
	t.Helper()
	dir := filepath.Join(dataDir, "guilds")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, guildID+guildConfigSuffix)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSanitizeText(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text unchanged",
			input:    "hello world",
			expected: "hello world",
		},
		{
			name:     "control characters stripped",
			input:    "hel\x01lo\x7f",
			expected: "hello",
		},
		{
			name:     "newlines and tabs kept",
			input:    "a\n\tb",
			expected: "a\n\tb",
		},
		{
			name:     "at signs broken up",
			input:    "@everyone",
			expected: "@\u200beveryone",
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, sanitizeText(tc.input))
			},
		)
	}
}

func TestSanitizeTextTruncates(t *testing.T) {
	long := make([]byte, sanitizedMaxLength*2)
	for i := range long {
		long[i] = 'a'
	}
	out := sanitizeText(string(long))
	assert.Equal(t, sanitizedMaxLength, len([]rune(out)))
	assert.True(t, len(out) < len(long))
}

func TestIsSafeRelativePath(t *testing.T) {
	assert.True(t, isSafeRelativePath("images/cat.png"))
	assert.True(t, isSafeRelativePath("cat.png"))
	assert.False(t, isSafeRelativePath(""))
	assert.False(t, isSafeRelativePath("/etc/passwd"))
	assert.False(t, isSafeRelativePath("../secrets.json"))
	assert.False(t, isSafeRelativePath("images/../../secrets.json"))
}

func TestNormalizeIDList(t *testing.T) {
	ids := normalizeIDList([]any{"123", float64(456), " 789 ", "abc", true})
	assert.Equal(t, []string{"123", "456", "789"}, ids)

	assert.Nil(t, normalizeIDList("123"))
	assert.Nil(t, normalizeIDList(nil))
}

func TestVerifyPassword(t *testing.T) {
	hash, err := hashPassword("hunter2")
	require.NoError(t, err)

	ok, err := verifyPassword(hash, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hash, "hunter3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("not-a-hash", "hunter2")
	assert.Error(t, err)
}
