package config

import (
	"time"

	"github.com/mattjoyce/dgw/internal/embed"
)

// Config represents the complete dgw configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Webhook WebhookConfig `yaml:"webhook"`
	Chat    ChatConfig    `yaml:"chat"`
	Embed   EmbedConfig   `yaml:"embed"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Relay   RelayConfig   `yaml:"relay"`
	Debug   DebugConfig   `yaml:"debug"`
	Samples SamplesConfig `yaml:"samples"`
	API     APIConfig     `yaml:"api,omitempty"`

	// SourcePath is the absolute path Load read, empty for Defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// WebhookConfig defines the inbound listener. Sizes accept KB/MB/GB suffixes.
type WebhookConfig struct {
	Listen      string `yaml:"listen"`
	Token       string `yaml:"token"`
	TokenHeader string `yaml:"token_header"`
	EventHeader string `yaml:"event_header"`
	MaxBodySize string `yaml:"max_body_size"`
	ChunkSize   string `yaml:"chunk_size"`
}

// ChatConfig selects and configures the chat platform.
type ChatConfig struct {
	Platform         string         `yaml:"platform"`
	HealthInterval   time.Duration  `yaml:"health_interval"`
	ReconnectTimeout time.Duration  `yaml:"reconnect_timeout"`
	ReadyMessage     string         `yaml:"ready_message"`
	Discord          DiscordConfig  `yaml:"discord"`
	Telegram         TelegramConfig `yaml:"telegram"`
}

const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

type DiscordConfig struct {
	BotToken       string `yaml:"bot_token"`
	ChannelID      string `yaml:"channel_id"`
	DebugChannelID string `yaml:"debug_channel_id"`
	WebhookID      string `yaml:"webhook_id"`
	WebhookToken   string `yaml:"webhook_token"`
	Prefix         string `yaml:"prefix"`
	MasterUserID   string `yaml:"master_user_id"`
}

type TelegramConfig struct {
	BotToken     string        `yaml:"bot_token"`
	ChatID       int64         `yaml:"chat_id"`
	DebugChatID  int64         `yaml:"debug_chat_id"`
	MasterUserID string        `yaml:"master_user_id"`
	Prefix       string        `yaml:"prefix"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// EmbedConfig controls how notifications are rendered.
type EmbedConfig struct {
	BaseURL    string        `yaml:"base_url"`
	FooterText string        `yaml:"footer_text"`
	FooterIcon string        `yaml:"footer_icon"`
	Limits     embed.Limits  `yaml:"limits"`
	Palette    embed.Palette `yaml:"palette"`
}

// BufferConfig defines where undelivered records wait during an outage.
type BufferConfig struct {
	Persist    bool   `yaml:"persist"`
	Path       string `yaml:"path"`
	MaxRecords int    `yaml:"max_records"`
}

type RelayConfig struct {
	ReportRatePerSec float64 `yaml:"report_rate_per_sec"`
}

type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// SamplesConfig overrides the bundled sample payloads.
type SamplesConfig struct {
	Dir string `yaml:"dir"`
}

// APIConfig defines the admin HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// ChecksumManifest is the content of a .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "dgw",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/dgw.lock",
		},
		Webhook: WebhookConfig{
			Listen:      "0.0.0.0:9000",
			TokenHeader: "X-Gitlab-Token",
			EventHeader: "X-Gitlab-Event",
			MaxBodySize: "1MB",
			ChunkSize:   "32KB",
		},
		Chat: ChatConfig{
			Platform:         PlatformDiscord,
			HealthInterval:   3 * time.Second,
			ReconnectTimeout: 30 * time.Second,
			Discord:          DiscordConfig{Prefix: "!"},
			Telegram:         TelegramConfig{Prefix: "/", PollTimeout: 10 * time.Second},
		},
		Embed: EmbedConfig{
			Limits:  embed.DefaultLimits(),
			Palette: embed.DefaultPalette(),
		},
		Buffer: BufferConfig{
			Path:       "./data/buffer.db",
			MaxRecords: 1000,
		},
		Relay: RelayConfig{ReportRatePerSec: 1},
		Debug: DebugConfig{Dir: "./data/debug"},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
