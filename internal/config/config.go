// Package config loads server settings from a TOML file. Every field has a
// default so the server runs with no file at all; command line flags in cmd
// override whatever the file sets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can say "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full server configuration.
type Config struct {
	Addr          string   `toml:"addr"`
	DBDir         string   `toml:"db_dir"`
	JWTSecret     string   `toml:"jwt_secret"`
	TokenTTL      Duration `toml:"token_ttl"`
	MatchTTL      Duration `toml:"match_ttl"`
	HubIdleTTL    Duration `toml:"hub_idle_ttl"`
	ShutdownGrace Duration `toml:"shutdown_grace"`

	Log LogConfig `toml:"log"`
	Bot BotConfig `toml:"bot"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// BotConfig controls the built-in bot opponent.
type BotConfig struct {
	Enabled     bool     `toml:"enabled"`
	Username    string   `toml:"username"`
	Difficulty  string   `toml:"difficulty"`
	MoveTimeout Duration `toml:"move_timeout"`
}

// Default returns the configuration used when no file or flag says
// otherwise.
func Default() Config {
	return Config{
		Addr:          ":8080",
		DBDir:         "./data",
		JWTSecret:     "",
		TokenTTL:      Duration{24 * time.Hour},
		MatchTTL:      Duration{5 * time.Minute},
		HubIdleTTL:    Duration{30 * time.Minute},
		ShutdownGrace: Duration{10 * time.Second},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bot: BotConfig{
			Enabled:     true,
			Username:    "chessserve-bot",
			Difficulty:  "medium",
			MoveTimeout: Duration{5 * time.Second},
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is an
// error; call Default directly when running without one.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %s in %s", undecoded[0], path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr must not be empty")
	}
	if c.DBDir == "" {
		return fmt.Errorf("config: db_dir must not be empty")
	}
	if c.TokenTTL.Duration <= 0 {
		return fmt.Errorf("config: token_ttl must be positive")
	}
	if c.MatchTTL.Duration <= 0 {
		return fmt.Errorf("config: match_ttl must be positive")
	}
	if c.HubIdleTTL.Duration <= 0 {
		return fmt.Errorf("config: hub_idle_ttl must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format %q not supported", c.Log.Format)
	}
	if c.Bot.Enabled {
		if c.Bot.Username == "" {
			return fmt.Errorf("config: bot username must be set when the bot is enabled")
		}
		if c.Bot.MoveTimeout.Duration <= 0 {
			return fmt.Errorf("config: bot move_timeout must be positive")
		}
	}
	return nil
}

// WriteExample writes a commented example file with the default values.
func WriteExample(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
