// ABOUTME: Tests for server config path resolution and log output formatting
// ABOUTME: Color is disabled so output can be compared as plain text

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danieldaguy/Chatroom-Testing/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CHATROOM_CONFIG", "/etc/chatroom.yaml")
	assert.Equal(t, "/etc/chatroom.yaml", getConfigPath())

	t.Setenv("CHATROOM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "chatroom", "server.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "chatroom"), getDataPath())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, loadDotEnv(), "a missing .env is fine")

	require.NoError(t, os.WriteFile(".env", []byte("CHATROOM_TEST_VALUE=from-dotenv\n"), 0600))
	t.Setenv("CHATROOM_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("CHATROOM_TEST_VALUE"))

	require.NoError(t, loadDotEnv())
	assert.Equal(t, "from-dotenv", os.Getenv("CHATROOM_TEST_VALUE"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("served", "code", 201)
	logger.Warn("slow", slog.Group("conn", "id", 7))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF served component=gateway req.code=201")
	assert.Contains(t, out, "WRN slow conn.id=7")
}

func TestSetupLogger_Levels(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))

	logger = setupLogger(config.LoggingConfig{Level: "bogus"})
	assert.True(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.False(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
