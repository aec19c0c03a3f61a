package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys at any level are fatal, matching the
// fail-fast posture used across the rest of the core's error handling.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("loading config file", slog.String("path", path))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config file %s: unknown keys: %v", path, keys)
	}

	applyPeerDefaults(cfg.Peers)
	applyFolderIDDefaults(cfg.Folders)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully",
		slog.String("path", path),
		slog.Int("folder_count", len(cfg.Folders)),
		slog.Int("peer_count", len(cfg.Peers)),
	)

	return cfg, nil
}

// applyFolderIDDefaults assigns a generated UUID to any [[folder]] entry
// left without an explicit id — operators list folders by path only; the
// loader mints the identity and Validate then checks it for uniqueness.
func applyFolderIDDefaults(folders []FolderConfig) {
	for i := range folders {
		if folders[i].ID == "" {
			folders[i].ID = uuid.NewString()
		}
	}
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values — supporting a zero-config
// first run.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if logger == nil {
			logger = slog.Default()
		}

		logger.Debug("config file not found, using defaults", slog.String("path", path))

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}
