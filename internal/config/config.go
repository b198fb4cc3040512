// Package config loads the engine's optional JSON configuration file.
// Absent keys take the documented defaults; the reserved local-socket
// transport fields are carried for forward compatibility only and are
// not read by the in-memory hub.
package config

import (
	"encoding/json"
	"os"
)

// Config is the top-level JSON configuration shape.
type Config struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	AuthKey           string `json:"authKey"`
	ArtificialLatency int    `json:"artificialLatency"`
	ProcessCount      int    `json:"processCount"`

	LogLevel  string `json:"logLevel"`
	LogJSON   bool   `json:"logJson"`
	MetricsOn bool   `json:"metricsEnabled"`

	// LogDir and PersistenceDir are created by the CLI before it
	// constructs a controller. The engine itself never opens files under
	// them; they're carried here purely so collaborators that do
	// (a future log sink, a future persistence layer) have one place to
	// read the configured paths from.
	LogDir         string `json:"logDir"`
	PersistenceDir string `json:"persistenceDir"`
}

// Default returns the documented zero-config defaults.
func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              0,
		ArtificialLatency: 0,
		ProcessCount:      0,
		LogLevel:          "info",
		LogJSON:           false,
		MetricsOn:         true,
		LogDir:            "",
		PersistenceDir:    "",
	}
}

// Load reads path if non-empty, overlaying declared keys onto Default.
// A missing path is not an error: the caller gets defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
