// Package config loads the coordination core's configuration from
// config.yaml under the home directory, with environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/piyushsatti/nonagon/internal/otel"
)

// ChatConfig holds the chat platform adapter settings.
type ChatConfig struct {
	// BotToken authenticates the bot against the chat platform.
	// Env override: BOT_TOKEN.
	BotToken string `yaml:"bot_token"`

	// QuestBoardChannelID is the channel quest announcements are posted to.
	QuestBoardChannelID int64 `yaml:"quest_board_channel_id"`

	// CharacterBoardChannelID is the channel character announcements are posted to.
	CharacterBoardChannelID int64 `yaml:"character_board_channel_id"`

	// AllowedGuildIDs restricts which tenants the core serves. Empty allows all.
	AllowedGuildIDs []int64 `yaml:"allowed_guild_ids"`

	Enabled bool `yaml:"enabled"`
}

// APIConfig holds the external quest API client settings.
type APIConfig struct {
	// BaseURL is the quest service REST root, e.g. https://quests.example.com.
	// Env override: QUEST_API_BASE_URL.
	BaseURL string `yaml:"base_url"`

	// GraphQLURL is the GraphQL endpoint used for member profile lookups.
	GraphQLURL string `yaml:"graphql_url"`

	// GraphQLToken authenticates GraphQL calls.
	GraphQLToken string `yaml:"graphql_token"`

	// TimeoutSeconds bounds each outbound call. 0 uses the default (10s).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// FlushConfig controls the dirty-flush engine.
type FlushConfig struct {
	// ViaAdapter routes persistence through the remote quest API instead of
	// the local store.
	ViaAdapter bool `yaml:"via_adapter"`

	// IntervalSeconds is the flush loop period. 0 uses the default (300s).
	IntervalSeconds int `yaml:"interval_seconds"`

	// Workers is the adapter-path worker pool size. 0 uses the default (4).
	Workers int `yaml:"workers"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	// JWTSecretKey signs session tokens. Env override: JWT_SECRET_KEY.
	JWTSecretKey string `yaml:"jwt_secret_key"`

	// JWTExpirationHours bounds token lifetime. 0 uses the default (24).
	JWTExpirationHours int `yaml:"jwt_expiration_hours"`

	// StaticToken, when set, is accepted as a bearer token for service calls.
	StaticToken string `yaml:"static_token"`
}

// DigestConfig controls the scheduled engagement digest.
type DigestConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression. Empty uses the default (daily at 09:00).
	Schedule string `yaml:"schedule"`
}

// WizardConfig bounds DM wizard sessions.
type WizardConfig struct {
	// QuestTimeoutSeconds is the per-question timeout for quest wizards.
	// 0 uses the default (300).
	QuestTimeoutSeconds int `yaml:"quest_timeout_seconds"`

	// CharacterTimeoutSeconds is the per-question timeout for character
	// wizards. 0 uses the default (180).
	CharacterTimeoutSeconds int `yaml:"character_timeout_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Chat   ChatConfig   `yaml:"chat"`
	API    APIConfig    `yaml:"api"`
	Flush  FlushConfig  `yaml:"flush"`
	Auth   AuthConfig   `yaml:"auth"`
	Digest DigestConfig `yaml:"digest"`
	Wizard WizardConfig `yaml:"wizard"`
	Otel   otel.Config  `yaml:"otel"`

	// AllowOrigins controls which Origin headers are accepted for browser
	// WS connections. Empty means local-only (no browser Origin required).
	AllowOrigins []string `yaml:"allow_origins"`

	// DrainTimeoutSeconds bounds shutdown drain. 0 uses the default (5s).
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	// RetentionAuditLogDays is the audit retention policy. 0 keeps forever.
	RetentionAuditLogDays int `yaml:"retention_audit_log_days"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|board=%d|via_adapter=%t|interval=%d|origins=%v",
		c.BindAddr, c.LogLevel, c.Chat.QuestBoardChannelID, c.Flush.ViaAdapter,
		c.Flush.IntervalSeconds, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:              "127.0.0.1:18990",
		LogLevel:              "info",
		DrainTimeoutSeconds:   5,
		RetentionAuditLogDays: 365,
		API: APIConfig{
			TimeoutSeconds: 10,
		},
		Flush: FlushConfig{
			IntervalSeconds: 15,
			Workers:         4,
		},
		Auth: AuthConfig{
			JWTExpirationHours: 24,
		},
		Digest: DigestConfig{
			Schedule: "0 9 * * *",
		},
		Wizard: WizardConfig{
			QuestTimeoutSeconds:     300,
			CharacterTimeoutSeconds: 180,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("NONAGON_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nonagon")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nonagon home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18990"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 10
	}
	if cfg.Flush.IntervalSeconds <= 0 {
		cfg.Flush.IntervalSeconds = 15
	}
	if cfg.Flush.Workers <= 0 {
		cfg.Flush.Workers = 4
	}
	if cfg.Auth.JWTExpirationHours <= 0 {
		cfg.Auth.JWTExpirationHours = 24
	}
	if strings.TrimSpace(cfg.Digest.Schedule) == "" {
		cfg.Digest.Schedule = "0 9 * * *"
	}
	if cfg.Wizard.QuestTimeoutSeconds <= 0 {
		cfg.Wizard.QuestTimeoutSeconds = 300
	}
	if cfg.Wizard.CharacterTimeoutSeconds <= 0 {
		cfg.Wizard.CharacterTimeoutSeconds = 180
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	// Flushing through the adapter needs an API endpoint to flush to.
	if cfg.Flush.ViaAdapter && cfg.API.BaseURL == "" {
		cfg.Flush.ViaAdapter = false
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NONAGON_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("NONAGON_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NONAGON_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("NONAGON_FLUSH_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Flush.IntervalSeconds = v
		}
	}
	if raw := os.Getenv("NONAGON_FLUSH_VIA_ADAPTER"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Flush.ViaAdapter = v
		}
	}
	if raw := os.Getenv("BOT_TOKEN"); raw != "" {
		cfg.Chat.BotToken = raw
	}
	if raw := os.Getenv("QUEST_BOARD_CHANNEL_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Chat.QuestBoardChannelID = v
		}
	}
	if raw := os.Getenv("QUEST_API_BASE_URL"); raw != "" {
		cfg.API.BaseURL = raw
	}
	if raw := os.Getenv("GRAPHQL_API_URL"); raw != "" {
		cfg.API.GraphQLURL = raw
	}
	if raw := os.Getenv("GRAPHQL_API_TOKEN"); raw != "" {
		cfg.API.GraphQLToken = raw
	}
	if raw := os.Getenv("JWT_SECRET_KEY"); raw != "" {
		cfg.Auth.JWTSecretKey = raw
	}
	if raw := os.Getenv("JWT_EXPIRATION_HOURS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Auth.JWTExpirationHours = v
		}
	}
}
