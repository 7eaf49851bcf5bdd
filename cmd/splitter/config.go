package splitter

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gc-decomp/splitter/internal/config"
)

// loadConfig re-serializes viper's merged view of the config file, flags,
// and SPLITTER_* environment variables back into YAML and decodes it
// through config.Parse, so the CLI gets viper's layered sourcing while
// config.Config keeps its own strict, unknown-key-rejecting schema instead
// of viper's permissive map-based one.
func loadConfig() (*config.Config, error) {
	raw, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("marshaling merged settings: %w", err)
	}

	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
