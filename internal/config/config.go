// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the sync core.
package config

// Config is the top-level configuration structure.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Folders   []FolderConfig  `toml:"folder"`
	Peers     []PeerConfig    `toml:"peer"`
	Sync      SyncConfig      `toml:"sync"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Backup    BackupConfig    `toml:"backup"`
	Logging   LoggingConfig   `toml:"logging"`
}

// NodeConfig controls how the storage-node child process is spawned and
// supervised.
type NodeConfig struct {
	BinaryPath      string `toml:"binary_path"`
	DataDir         string `toml:"data_dir"`
	APIPort         int    `toml:"api_port"`
	DiscoveryPort   int    `toml:"discovery_port"` // UDP
	ListenPort      int    `toml:"listen_port"`    // TCP
	HealthInterval  string `toml:"health_interval"`
	MaxRestarts     int    `toml:"max_restarts"`
	ReadinessWindow string `toml:"readiness_window"`
}

// FolderConfig is one watched folder.
type FolderConfig struct {
	ID         string `toml:"id"`
	Path       string `toml:"path"`
	Enabled    bool   `toml:"enabled"`
	BackupPeer string `toml:"backup_peer"` // nickname of a [[peer]] entry this folder's manifests are pushed to
	AutoNotify bool   `toml:"backup_auto_notify"`
}

// PeerConfig is one configured source peer for the backup daemon to poll.
type PeerConfig struct {
	Nickname     string `toml:"nickname"`
	Host         string `toml:"host"`
	ManifestPort int    `toml:"manifest_port"`
	TriggerPort  int    `toml:"trigger_port"`
	PeerID       string `toml:"peer_id"`
	MultiAddr    string `toml:"multiaddr"`
	Enabled      bool   `toml:"enabled"`
}

// SyncConfig controls the sync engine's manifest-authoring threshold and
// upload batching.
type SyncConfig struct {
	ManifestThreshold int    `toml:"manifest_threshold"`
	QueueTick         string `toml:"queue_tick"`
	BatchSize         int    `toml:"batch_size"`
}

// DiscoveryConfig controls the manifest discovery server and its IP
// allow-list.
type DiscoveryConfig struct {
	Port      int      `toml:"port"`
	AllowList []string `toml:"allow_list"`
}

// BackupConfig controls the backup daemon's scheduling and limits.
type BackupConfig struct {
	PollInterval       string `toml:"poll_interval"`
	MaxConcurrentFetch int    `toml:"max_concurrent_downloads"`
	MaxRetries         int    `toml:"max_retries"`
	AutoDeleteTomb     bool   `toml:"auto_delete_tombstones"`
	TriggerPort        int    `toml:"trigger_port"`
	StatePath          string `toml:"state_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}
