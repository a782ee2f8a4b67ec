package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables consulted when the file leaves a secret empty.
const (
	EnvConfig       = "DGW_CONFIG"
	EnvWebhookToken = "DGW_WEBHOOK_TOKEN"
	EnvBotToken     = "DGW_BOT_TOKEN"
)

// Load reads, interpolates, defaults, verifies and validates a config file.
// A directory is accepted and must contain config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := VerifyIntegrity(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	applyEnvFallbacks(cfg)
	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validate can name the missing variable.
		return match
	})
}

func applyEnvFallbacks(cfg *Config) {
	if cfg.Webhook.Token == "" {
		cfg.Webhook.Token = os.Getenv(EnvWebhookToken)
	}
	if tok := os.Getenv(EnvBotToken); tok != "" {
		if cfg.Chat.Discord.BotToken == "" {
			cfg.Chat.Discord.BotToken = tok
		}
		if cfg.Chat.Telegram.BotToken == "" {
			cfg.Chat.Telegram.BotToken = tok
		}
	}
}

func applyConfigDefaults(cfg *Config) *Config {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = d.Service.LockPath
	}

	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = d.Webhook.Listen
	}
	if cfg.Webhook.TokenHeader == "" {
		cfg.Webhook.TokenHeader = d.Webhook.TokenHeader
	}
	if cfg.Webhook.EventHeader == "" {
		cfg.Webhook.EventHeader = d.Webhook.EventHeader
	}
	if cfg.Webhook.MaxBodySize == "" {
		cfg.Webhook.MaxBodySize = d.Webhook.MaxBodySize
	}
	if cfg.Webhook.ChunkSize == "" {
		cfg.Webhook.ChunkSize = d.Webhook.ChunkSize
	}

	cfg.Chat.Platform = strings.ToLower(cfg.Chat.Platform)
	if cfg.Chat.Platform == "" {
		cfg.Chat.Platform = d.Chat.Platform
	}
	if cfg.Chat.HealthInterval == 0 {
		cfg.Chat.HealthInterval = d.Chat.HealthInterval
	}
	if cfg.Chat.ReconnectTimeout == 0 {
		cfg.Chat.ReconnectTimeout = d.Chat.ReconnectTimeout
	}
	if cfg.Chat.ReadyMessage == "" {
		cfg.Chat.ReadyMessage = cfg.Service.Name + " is online and ready to receive data"
	}
	if cfg.Chat.Discord.Prefix == "" {
		cfg.Chat.Discord.Prefix = d.Chat.Discord.Prefix
	}
	if cfg.Chat.Telegram.Prefix == "" {
		cfg.Chat.Telegram.Prefix = d.Chat.Telegram.Prefix
	}
	if cfg.Chat.Telegram.PollTimeout == 0 {
		cfg.Chat.Telegram.PollTimeout = d.Chat.Telegram.PollTimeout
	}

	if cfg.Buffer.Path == "" {
		cfg.Buffer.Path = d.Buffer.Path
	}
	if cfg.Buffer.MaxRecords == 0 {
		cfg.Buffer.MaxRecords = d.Buffer.MaxRecords
	}
	if cfg.Relay.ReportRatePerSec == 0 {
		cfg.Relay.ReportRatePerSec = d.Relay.ReportRatePerSec
	}
	if cfg.Debug.Dir == "" {
		cfg.Debug.Dir = d.Debug.Dir
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = d.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	return cfg
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if err := checkSecret("webhook.token", cfg.Webhook.Token); err != nil {
		return err
	}
	if cfg.Webhook.Token == "" {
		return fmt.Errorf("webhook.token is required (or set %s)", EnvWebhookToken)
	}

	if cfg.Chat.HealthInterval < 0 {
		return fmt.Errorf("chat.health_interval must be positive")
	}
	if cfg.Chat.ReconnectTimeout < 0 {
		return fmt.Errorf("chat.reconnect_timeout must be positive")
	}
	switch cfg.Chat.Platform {
	case PlatformDiscord:
		d := cfg.Chat.Discord
		if err := checkSecret("chat.discord.bot_token", d.BotToken); err != nil {
			return err
		}
		if d.BotToken == "" {
			return fmt.Errorf("chat.discord.bot_token is required (or set %s)", EnvBotToken)
		}
		if d.ChannelID == "" && (d.WebhookID == "" || d.WebhookToken == "") {
			return fmt.Errorf("chat.discord needs channel_id or webhook_id and webhook_token")
		}
		if err := checkSecret("chat.discord.webhook_token", d.WebhookToken); err != nil {
			return err
		}
	case PlatformTelegram:
		tg := cfg.Chat.Telegram
		if err := checkSecret("chat.telegram.bot_token", tg.BotToken); err != nil {
			return err
		}
		if tg.BotToken == "" {
			return fmt.Errorf("chat.telegram.bot_token is required (or set %s)", EnvBotToken)
		}
		if tg.ChatID == 0 {
			return fmt.Errorf("chat.telegram.chat_id is required")
		}
	default:
		return fmt.Errorf("chat.platform must be discord or telegram (got %q)", cfg.Chat.Platform)
	}

	if cfg.Buffer.Persist && cfg.Buffer.Path == "" {
		return fmt.Errorf("buffer.path is required when buffer.persist is true")
	}
	if cfg.Buffer.MaxRecords < 0 {
		return fmt.Errorf("buffer.max_records must not be negative")
	}

	if cfg.API.Enabled {
		if err := checkSecret("api.api_key", cfg.API.APIKey); err != nil {
			return err
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when the API is enabled")
		}
	}
	return nil
}

// checkSecret rejects values still holding a ${VAR} placeholder.
func checkSecret(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// Redacted returns a copy with every secret masked, for `dgw config show`.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&out.Webhook.Token)
	mask(&out.Chat.Discord.BotToken)
	mask(&out.Chat.Discord.WebhookToken)
	mask(&out.Chat.Telegram.BotToken)
	mask(&out.API.APIKey)
	return &out
}
