package vigil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeliverer(t testing.TB, session *fakeSession) *responseDeliverer {
	t.Helper()
	return newResponseDeliverer(session, t.TempDir(), nil, testLogger(t))
}

func TestResolveTargets(t *testing.T) {
	assert.Equal(
		t, []string{ResponseTargetChannel}, resolveTargets(Settings{}),
	)
	assert.Equal(
		t, []string{ResponseTargetReply},
		resolveTargets(Settings{"response_mode": "reply"}),
	)
	assert.Equal(
		t, []string{ResponseTargetDM},
		resolveTargets(Settings{"response_mode": "ephemeral"}),
	)
	assert.Equal(
		t, []string{ResponseTargetDM, ResponseTargetChannel},
		resolveTargets(Settings{"response_targets": []any{"dm", "channel"}}),
	)
	// response_targets overrides response_mode, and a bare string works.
	assert.Equal(
		t, []string{ResponseTargetReply},
		resolveTargets(
			Settings{
				"response_mode":    "dm",
				"response_targets": "reply",
			},
		),
	)
	// Go-native string slices work too.
	assert.Equal(
		t, []string{ResponseTargetReply, ResponseTargetDM},
		resolveTargets(Settings{"response_targets": []string{"reply", "dm"}}),
	)
	// Unrecognized targets fall back to the channel.
	assert.Equal(
		t, []string{ResponseTargetChannel},
		resolveTargets(Settings{"response_targets": []any{"carrier-pigeon"}}),
	)
}

func TestSendResponseString(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	ok := deliver.SendResponse(context.Background(), m, "Hello!", Settings{})
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, testChannelID, sent[0].ChannelID)
	assert.Equal(t, "Hello!", sent[0].Data.Content)
	assert.Nil(t, sent[0].Data.Reference)
}

func TestSendResponseSanitizes(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	ok := deliver.SendResponse(
		context.Background(), m, "hey @everyone\x01", Settings{},
	)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "hey @\u200beveryone", sent[0].Data.Content)
}

func TestSendResponseEmpty(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")
	ctx := context.Background()

	assert.False(t, deliver.SendResponse(ctx, m, nil, Settings{}))
	assert.False(t, deliver.SendResponse(ctx, m, "", Settings{}))
	assert.False(t, deliver.SendResponse(ctx, m, 42, Settings{}))
	assert.False(
		t, deliver.SendResponse(ctx, m, map[string]any{}, Settings{}),
	)
	assert.Empty(t, session.sentMessages())
}

func TestSendResponsePrefixSuffix(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{
		"response_prefix": ">> ",
		"response_suffix": " <<",
	}
	ok := deliver.SendResponse(context.Background(), m, "Hello!", settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, ">> Hello! <<", sent[0].Data.Content)
}

func TestSendResponseEmbedOnlyNoWrap(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{"response_prefix": ">> "}
	response := map[string]any{
		"embed": map[string]any{"title": "Title", "description": "Body"},
	}
	ok := deliver.SendResponse(context.Background(), m, response, settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	// Embed-only responses carry no text, so no prefix wrapping occurs.
	assert.Empty(t, sent[0].Data.Content)
	require.Len(t, sent[0].Data.Embeds, 1)
	assert.Equal(t, "Title", sent[0].Data.Embeds[0].Title)
	assert.Equal(t, "Body", sent[0].Data.Embeds[0].Description)
}

func TestSendResponseReply(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{"response_mode": "reply", "typing": true}
	ok := deliver.SendResponse(context.Background(), m, "Hello!", settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Data.Reference)
	assert.Equal(t, m.ID, sent[0].Data.Reference.MessageID)
	assert.Equal(t, []string{testChannelID}, session.typingCalls)
}

func TestSendResponseDM(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{"response_mode": "dm"}
	ok := deliver.SendResponse(context.Background(), m, "Hello!", settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, dmChannelID(testUserID), sent[0].ChannelID)
}

func TestSendResponseDMFallback(t *testing.T) {
	session := newFakeSession()
	session.failDM = true
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	ok := deliver.SendResponse(
		context.Background(), m, "Hello!", Settings{"response_mode": "dm"},
	)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, testChannelID, sent[0].ChannelID)

	// With the fallback disabled, the DM failure is final.
	session.sent = nil
	ok = deliver.SendResponse(
		context.Background(), m, "Hello!", Settings{
			"response_mode":          "dm",
			"dm_fallback_to_channel": false,
		},
	)
	assert.False(t, ok)
	assert.Empty(t, session.sentMessages())
}

func TestSendResponseMultipleTargets(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{"response_targets": []any{"channel", "dm"}}
	ok := deliver.SendResponse(context.Background(), m, "Hello!", settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, testChannelID, sent[0].ChannelID)
	assert.Equal(t, dmChannelID(testUserID), sent[1].ChannelID)
}

func TestSendResponsePartialFailureStillHandled(t *testing.T) {
	session := newFakeSession()
	session.failChannels[testChannelID] = true
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{"response_targets": []any{"channel", "dm"}}
	ok := deliver.SendResponse(context.Background(), m, "Hello!", settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, dmChannelID(testUserID), sent[0].ChannelID)
}

func TestSendResponseMentions(t *testing.T) {
	session := newFakeSession()
	session.roles[testGuildID] = []*discordgo.Role{
		{ID: "role-known", Name: "Known"},
	}
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	settings := Settings{
		"mention_user":  true,
		"mention_roles": []any{"role-known", "role-unknown"},
	}
	ok := deliver.SendResponse(context.Background(), m, "Hello!", settings)
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(
		t,
		"<@"+testUserID+"> <@&role-known> Hello!",
		sent[0].Data.Content,
	)
	require.NotNil(t, sent[0].Data.AllowedMentions)
	assert.Equal(t, []string{testUserID}, sent[0].Data.AllowedMentions.Users)
	// Unknown roles are filtered out of the allow-list.
	assert.Equal(t, []string{"role-known"}, sent[0].Data.AllowedMentions.Roles)
}

func TestSendResponseFiles(t *testing.T) {
	session := newFakeSession()
	dataDir := t.TempDir()
	deliver := newResponseDeliverer(session, dataDir, nil, testLogger(t))

	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "images"), 0o755))
	require.NoError(
		t, os.WriteFile(
			filepath.Join(dataDir, "images", "cat.png"),
			[]byte("png bytes"), 0o644,
		),
	)

	m := newTestMessage("!cat")
	response := map[string]any{
		"content": "here you go",
		"files": []any{
			"images/cat.png",
			map[string]any{
				"path":    "images/cat.png",
				"spoiler": true,
			},
			"../outside.png",
			"images/missing.png",
		},
	}
	ok := deliver.SendResponse(context.Background(), m, response, Settings{})
	assert.True(t, ok)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Data.Files, 2)
	assert.Equal(t, "cat.png", sent[0].Data.Files[0].Name)
	assert.Equal(t, "SPOILER_cat.png", sent[0].Data.Files[1].Name)
}

func TestSendResponseClosesAttachments(t *testing.T) {
	session := newFakeSession()
	dataDir := t.TempDir()
	deliver := newResponseDeliverer(session, dataDir, nil, testLogger(t))

	require.NoError(
		t, os.WriteFile(
			filepath.Join(dataDir, "cat.png"), []byte("png bytes"), 0o644,
		),
	)

	m := newTestMessage("!cat")
	response := map[string]any{"files": []any{"cat.png"}}
	settings := Settings{"response_targets": []any{"channel", "dm"}}
	ok := deliver.SendResponse(context.Background(), m, response, settings)
	assert.True(t, ok)

	// Each target opens its own handles and closes them after the send.
	sent := session.sentMessages()
	require.Len(t, sent, 2)
	for _, msg := range sent {
		require.Len(t, msg.Data.Files, 1)
		f, isFile := msg.Data.Files[0].Reader.(*os.File)
		require.True(t, isFile)
		_, err := f.Read(make([]byte, 1))
		assert.ErrorIs(t, err, os.ErrClosed)
	}
}

func TestSendResponseCancelledContext(t *testing.T) {
	session := newFakeSession()
	deliver := newTestDeliverer(t, session)
	m := newTestMessage("!hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := deliver.SendResponse(ctx, m, "Hello!", Settings{})
	assert.False(t, ok)
	assert.Empty(t, session.sentMessages())
}

func TestCoerceResponses(t *testing.T) {
	assert.Equal(t, []any{"a"}, coerceResponses("a"))
	assert.Equal(t, []any{"a", "b"}, coerceResponses([]any{"a", "b"}))
	assert.Equal(t, []any{nil}, coerceResponses(nil))
}
