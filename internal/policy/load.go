package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const maxRulesFileSize = 1024 * 1024 // 1MB

// Load reads a rules file in TOML format and validates it.
// An empty path returns the built-in defaults.
func Load(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rules file: %w", err)
	}
	if info.Size() > maxRulesFileSize {
		return nil, fmt.Errorf("rules file too large: %d bytes (max %d)", info.Size(), maxRulesFileSize)
	}

	var rules Rules
	meta, err := toml.DecodeFile(path, &rules)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rules file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("rules file has unknown keys: %v", undecoded)
	}

	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules validation failed: %w", err)
	}

	return &rules, nil
}
