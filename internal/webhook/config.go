package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/dgw/internal/config"
)

// FromConfig converts config.WebhookConfig to webhook.Config, parsing sizes
// and filling header defaults.
func FromConfig(wc config.WebhookConfig) (Config, error) {
	if wc.Token == "" {
		return Config{}, fmt.Errorf("webhook token is not configured")
	}

	maxBodySize, err := parseMaxBodySize(wc.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid max_body_size %q: %w", wc.MaxBodySize, err)
	}

	chunkSize := int64(DefaultChunkSize)
	if wc.ChunkSize != "" {
		if chunkSize, err = parseMaxBodySize(wc.ChunkSize); err != nil {
			return Config{}, fmt.Errorf("invalid chunk_size %q: %w", wc.ChunkSize, err)
		}
	}

	cfg := Config{
		Listen:      wc.Listen,
		Token:       wc.Token,
		TokenHeader: wc.TokenHeader,
		EventHeader: wc.EventHeader,
		MaxBodySize: maxBodySize,
		ChunkSize:   int(chunkSize),
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.TokenHeader == "" {
		c.TokenHeader = DefaultTokenHeader
	}
	if c.EventHeader == "" {
		c.EventHeader = DefaultEventHeader
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	return c
}

// parseMaxBodySize parses size strings like "1MB", "32KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	// Handle unit suffixes (KB, MB, GB)
	upper := strings.ToUpper(size)
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		size = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		size = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		size = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}

	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value { // overflow
		return 0, fmt.Errorf("size too large")
	}

	return result, nil
}
