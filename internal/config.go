package internal

import (
	"fmt"

	"github.com/hbomb79/Grab/internal/api"
	"github.com/hbomb79/Grab/internal/download"
	"github.com/hbomb79/Grab/internal/extract"
	"github.com/hbomb79/Grab/internal/reaper"
	"github.com/hbomb79/Grab/internal/release"
	"github.com/hbomb79/Grab/internal/storage"
	"github.com/ilyakaznacheev/cleanenv"
)

// GrabConfig is the struct used to contain the
// various user config supplied by file, or
// by the environment.
type GrabConfig struct {
	Storage    storage.Config  `yaml:"storage"`
	Scheduler  download.Config `yaml:"scheduler"`
	Reaper     reaper.Config   `yaml:"reaper"`
	Release    release.Config  `yaml:"release"`
	Extractor  extract.Config  `yaml:"extractor"`
	RestConfig api.RestConfig  `yaml:"rest"`
	LogLevel   string          `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
}

// LoadConfig reads the configuration from the YAML file at the path
// provided, with environment variables taking precedence. If the path is
// empty the configuration is read from the environment alone.
func LoadConfig(configPath string) (*GrabConfig, error) {
	config := &GrabConfig{}
	if configPath == "" {
		if err := cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
		}

		return config, nil
	}

	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return config, nil
}
