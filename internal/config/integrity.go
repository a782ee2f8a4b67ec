package config

import (
	"fmt"
	"path/filepath"
)

// VerifyIntegrity checks configPath against its .checksums manifest.
// Configs that were never locked pass.
func VerifyIntegrity(configPath string) error {
	manifest, err := LoadChecksums(configPath)
	if err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}

	name := filepath.Base(configPath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%s has no hash in %s (run 'dgw config lock')", name, checksumFile)
	}
	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: dgw config lock", name, expected, actual)
	}
	return nil
}
