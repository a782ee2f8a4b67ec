package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Discover finds the config file. Priority order: explicit path,
// $DGW_CONFIG, ~/.config/dgw/config.yaml, /etc/dgw/config.yaml, ./config.yaml.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, candidate := range candidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/dgw/config.yaml, /etc/dgw/config.yaml, ./config.yaml)", EnvConfig)
}

func candidates() []string {
	var out []string
	if p := os.Getenv(EnvConfig); p != "" {
		out = append(out, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "dgw", "config.yaml"))
	}
	return append(out, "/etc/dgw/config.yaml", "./config.yaml")
}
