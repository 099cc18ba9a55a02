package base

import (
	"os"

	"github.com/docforge/reliquary/internal/config"
)

// LoadConfig resolves the configuration from flag values with env-var
// fallback (RELIQUARY_CONFIG, RELIQUARY_ROOT), then the file, then
// defaults.
func LoadConfig(flagConfig, flagRoot string) (*config.Config, error) {
	path := flagConfig
	if val, ok := os.LookupEnv("RELIQUARY_CONFIG"); ok && path == "" {
		path = val
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	root := flagRoot
	if val, ok := os.LookupEnv("RELIQUARY_ROOT"); ok && root == "" {
		root = val
	}
	if root != "" {
		cfg.Root = root
	}
	return cfg, nil
}
