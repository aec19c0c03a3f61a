package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minManifestThreshold = 1
	minBatchSize         = 1
	minConcurrentFetch   = 1
	minRetries           = 0
	minPort              = 1
	maxPort              = 65535
)

// Validate checks all configuration values and returns every error found,
// joined, so a user sees a complete report in one pass rather than fixing
// issues one at a time.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateNode(&cfg.Node)...)
	errs = append(errs, validateFolders(cfg.Folders)...)
	errs = append(errs, validatePeers(cfg.Peers)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateDiscovery(&cfg.Discovery)...)
	errs = append(errs, validateBackup(&cfg.Backup)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validatePort(field string, port int) []error {
	if port < minPort || port > maxPort {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", field, minPort, maxPort, port)}
	}

	return nil
}

func validateNode(n *NodeConfig) []error {
	var errs []error

	errs = append(errs, validatePort("node.api_port", n.APIPort)...)
	errs = append(errs, validatePort("node.discovery_port", n.DiscoveryPort)...)
	errs = append(errs, validatePort("node.listen_port", n.ListenPort)...)
	errs = append(errs, validateDurationMin("node.health_interval", n.HealthInterval, time.Second)...)
	errs = append(errs, validateDurationMin("node.readiness_window", n.ReadinessWindow, time.Second)...)

	if n.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("node.max_restarts: must be >= 0, got %d", n.MaxRestarts))
	}

	return errs
}

func validateFolders(folders []FolderConfig) []error {
	var errs []error

	seen := make(map[string]bool, len(folders))

	for i := range folders {
		f := &folders[i]
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("folder[%d]: id must not be empty", i))
		} else if seen[f.ID] {
			errs = append(errs, fmt.Errorf("folder[%d]: duplicate id %q", i, f.ID))
		}

		seen[f.ID] = true

		if f.Path == "" {
			errs = append(errs, fmt.Errorf("folder[%d]: path must not be empty", i))
		}
	}

	return errs
}

func validatePeers(peers []PeerConfig) []error {
	var errs []error

	for i := range peers {
		p := &peers[i]
		if p.Nickname == "" {
			errs = append(errs, fmt.Errorf("peer[%d]: nickname must not be empty", i))
		}

		if p.Host == "" {
			errs = append(errs, fmt.Errorf("peer[%d]: host must not be empty", i))
		}

		errs = append(errs, validatePort(fmt.Sprintf("peer[%d].manifest_port", i), p.ManifestPort)...)
		errs = append(errs, validatePort(fmt.Sprintf("peer[%d].trigger_port", i), p.TriggerPort)...)
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.ManifestThreshold < minManifestThreshold {
		errs = append(errs, fmt.Errorf("sync.manifest_threshold: must be >= %d, got %d",
			minManifestThreshold, s.ManifestThreshold))
	}

	if s.BatchSize < minBatchSize {
		errs = append(errs, fmt.Errorf("sync.batch_size: must be >= %d, got %d", minBatchSize, s.BatchSize))
	}

	errs = append(errs, validateDurationMin("sync.queue_tick", s.QueueTick, time.Second)...)

	return errs
}

func validateDiscovery(d *DiscoveryConfig) []error {
	return validatePort("discovery.port", d.Port)
}

func validateBackup(b *BackupConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("backup.poll_interval", b.PollInterval, time.Second)...)
	errs = append(errs, validatePort("backup.trigger_port", b.TriggerPort)...)

	if b.MaxConcurrentFetch < minConcurrentFetch {
		errs = append(errs, fmt.Errorf("backup.max_concurrent_downloads: must be >= %d, got %d",
			minConcurrentFetch, b.MaxConcurrentFetch))
	}

	if b.MaxRetries < minRetries {
		errs = append(errs, fmt.Errorf("backup.max_retries: must be >= %d, got %d", minRetries, b.MaxRetries))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}
