package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chessserve.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
addr = ":9090"
jwt_secret = "hunter2"
match_ttl = "90s"

[log]
level = "debug"
format = "json"

[bot]
enabled = true
username = "deep-gopher"
difficulty = "hard"
move_timeout = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "hunter2", cfg.JWTSecret)
	assert.Equal(t, 90*time.Second, cfg.MatchTTL.Duration)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "deep-gopher", cfg.Bot.Username)
	assert.Equal(t, 2*time.Second, cfg.Bot.MoveTimeout.Duration)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().DBDir, cfg.DBDir)
	assert.Equal(t, Default().HubIdleTTL, cfg.HubIdleTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadUnknownKey(t *testing.T) {
	path := writeFile(t, `listen_addr = ":9090"`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown key")
}

func TestLoadBadDuration(t *testing.T) {
	path := writeFile(t, `match_ttl = "soon"`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"empty db dir", func(c *Config) { c.DBDir = "" }},
		{"zero token ttl", func(c *Config) { c.TokenTTL.Duration = 0 }},
		{"negative match ttl", func(c *Config) { c.MatchTTL.Duration = -time.Second }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bot without username", func(c *Config) { c.Bot.Enabled = true; c.Bot.Username = "" }},
		{"bot zero timeout", func(c *Config) { c.Bot.MoveTimeout.Duration = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestWriteExampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.toml")
	require.NoError(t, WriteExample(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
