package logcfg

import (
	"os"

	logs "github.com/danmuck/smplog"
)

const envConfigPath = "SMPLOG_CONFIG"

// Load returns file-backed logging configuration when available, otherwise
// defaults. The environment variable wins over on-disk candidates.
func Load() logs.Config {
	candidates := []string{
		"./smplog.config.toml",
		"./local/smplog.config.toml",
	}
	if path := os.Getenv(envConfigPath); path != "" {
		candidates = append([]string{path}, candidates...)
	}

	for _, path := range candidates {
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}

	return logs.DefaultConfig()
}
