package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Format represents the configuration file format.
type Format uint8

// FormatYAML is the only supported configuration format.
const FormatYAML Format = iota

// ParseFile loads the given file and unmarshals it into a Config, detecting
// the format from the file extension.
func ParseFile(filename string) (Config, error) {
	format, err := formatFromExtension(filename)
	if err != nil {
		return Config{}, err
	}

	fileBytes, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return Config{}, err
	}

	return Parse(format, fileBytes)
}

// Parse unmarshals the provided bytes into a Config.
func Parse(f Format, bytes []byte) (cfg Config, err error) {
	switch f {
	case FormatYAML:
		err = yaml.Unmarshal(bytes, &cfg)
	default:
		err = fmt.Errorf("unsupported config type '%+v'", f)
	}

	// Self-hosted instances do not serve gitlab.com/explore, point the health
	// check at their own health endpoint instead.
	if cfg.Gitlab.URL != "https://gitlab.com" &&
		cfg.Gitlab.HealthURL == "https://gitlab.com/explore" {
		cfg.Gitlab.HealthURL = fmt.Sprintf("%s/-/health", cfg.Gitlab.URL)
	}

	return
}

func formatFromExtension(filename string) (Format, error) {
	switch ext := filepath.Ext(filename); ext {
	case ".yml", ".yaml":
		return FormatYAML, nil
	default:
		return FormatYAML, fmt.Errorf("unsupported config type '%s', expected .y(a)ml", ext)
	}
}
