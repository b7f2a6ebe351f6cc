// ABOUTME: Tests for chatroom-tui config loading, commands and output
// ABOUTME: Commands run against a recording fake of the session

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/reconcile"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, "lobby", cfg.User.Room)
}

func TestLoad_ExpandsEnvAndDurations(t *testing.T) {
	t.Setenv("CHAT_USER", "alice")
	path := filepath.Join(t.TempDir(), "tui.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
url = "https://chat.example.com"

[user]
name = "${CHAT_USER}"
room = "general"

[sync]
snapshot_attempts = 6
backoff_min = "100ms"
backoff_max = "3s"
echo_window = "45s"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.User.Name)
	assert.Equal(t, "general", cfg.User.Room)
	assert.Equal(t, 6, cfg.Sync.SnapshotAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.BackoffMin.Duration)
	assert.Equal(t, 3*time.Second, cfg.Sync.BackoffMax.Duration)
	assert.Equal(t, 45*time.Second, cfg.Sync.EchoWindow.Duration)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad scheme":   "[server]\nurl = \"ftp://x\"\n",
		"bad duration": "[sync]\nbackoff_min = \"soon\"\n",
		"inverted":     "[sync]\nbackoff_min = \"2s\"\nbackoff_max = \"1s\"\n",
		"negative":     "[sync]\nreconnect_attempts = -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tui.toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

type fakeSession struct {
	draft    string
	sent     []string
	dms      [][2]string
	avatar   []byte
	username string
	sendErr  error
}

func (f *fakeSession) SetDraft(text string) { f.draft = text }

func (f *fakeSession) SendMessage(ctx context.Context, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeSession) SendDirectMessage(ctx context.Context, recipient, body string) error {
	f.dms = append(f.dms, [2]string{recipient, body})
	return nil
}

func (f *fakeSession) UpdateAvatar(ctx context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.avatar = data
	return "http://chat.test/storage/v1/object/public/avatars/profile_pictures/1.png", nil
}

func (f *fakeSession) SetUsername(name string) error {
	f.username = name
	return nil
}

func (f *fakeSession) Username() string   { return f.username }
func (f *fakeSession) Presence() []string { return []string{"alice", "bob"} }

func TestHandleLine(t *testing.T) {
	var out bytes.Buffer
	screen := newRenderer(&out)
	fs := &fakeSession{}
	ctx := t.Context()

	quit, err := handleLine(ctx, fs, screen, "  hello room ")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, []string{"hello room"}, fs.sent)
	assert.Equal(t, "hello room", fs.draft)

	_, err = handleLine(ctx, fs, screen, "/dm bob  see you soon")
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"bob", "see you soon"}}, fs.dms)

	_, err = handleLine(ctx, fs, screen, "/who")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "online: alice, bob")

	_, err = handleLine(ctx, fs, screen, "/name carol")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "you are now carol")

	pic := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(pic, []byte("pixels"), 0600))
	_, err = handleLine(ctx, fs, screen, "/avatar "+pic)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), fs.avatar)
	assert.Contains(t, out.String(), "avatar updated")

	quit, err = handleLine(ctx, fs, screen, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestHandleLine_Errors(t *testing.T) {
	screen := newRenderer(io.Discard)
	ctx := t.Context()

	for _, line := range []string{"/dm bob", "/dm", "/avatar", "/name", "/bogus"} {
		_, err := handleLine(ctx, &fakeSession{}, screen, line)
		assert.Error(t, err, line)
	}

	_, err := handleLine(ctx, &fakeSession{}, screen, "/avatar /does/not/exist.png")
	assert.Error(t, err)

	fs := &fakeSession{sendErr: chat.ErrValidation}
	_, err = handleLine(ctx, fs, screen, "hi")
	assert.True(t, errors.Is(err, chat.ErrValidation))
}

func TestRenderer_PrintsEachMessageOnce(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local)

	first := chat.Message{ID: 1, Author: "alice", Body: "one", CreatedAt: at}
	pending := chat.Message{Author: "me", Body: "sending", ClientID: "tok", CreatedAt: at}
	r.onView(chat.CollectionMessages, []chat.Message{first, pending})
	r.onView(chat.CollectionMessages, []chat.Message{first, {ID: 2, Author: "bob", Body: "two", CreatedAt: at}})
	r.onView(chat.CollectionDirectMessages, []chat.Message{{ID: 1, Author: "bob", Recipient: "alice", Body: "psst", CreatedAt: at}})

	assert.Equal(t,
		"09:30 alice: one\n"+
			"09:30 bob: two\n"+
			"09:30 [dm] bob → alice: psst\n",
		out.String())
}

func TestRenderer_Status(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)

	r.onStatus(chat.CollectionMessages, reconcile.StatusLoading)
	r.onStatus(chat.CollectionMessages, reconcile.StatusDegraded)
	r.onStatus(chat.CollectionDirectMessages, reconcile.StatusOffline)

	assert.Equal(t,
		"[messages] history unavailable, showing new messages only\n"+
			"[direct_messages] offline\n",
		out.String())
}
