package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadServerSettings reads YAML-encoded ServerSettings from path, falling
// back to DefaultServerSettings on any read or parse error, exactly as the
// teacher's Load falls back to DefaultConfig rather than failing startup
// over a missing or malformed config file.
func LoadServerSettings(path string) ServerSettings {
	cfg := DefaultServerSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// LoadClientSettings is LoadServerSettings' client-side counterpart.
func LoadClientSettings(path string) ClientSettings {
	cfg := DefaultClientSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}
