package config

import (
	"fmt"
	"io"
)

// RenderEffective writes cfg as a human-readable annotated summary to w,
// powering the "config show" command.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	renderNodeSection(ew, &cfg.Node)
	renderFoldersSection(ew, cfg.Folders)
	renderPeersSection(ew, cfg.Peers)
	renderSyncSection(ew, &cfg.Sync)
	renderDiscoverySection(ew, &cfg.Discovery)
	renderBackupSection(ew, &cfg.Backup)
	renderLoggingSection(ew, &cfg.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error, so
// callers can chain printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderNodeSection(ew *errWriter, n *NodeConfig) {
	ew.printf("[node]\n")
	ew.printf("  binary_path      = %q\n", n.BinaryPath)
	ew.printf("  data_dir         = %q\n", n.DataDir)
	ew.printf("  api_port         = %d\n", n.APIPort)
	ew.printf("  discovery_port   = %d\n", n.DiscoveryPort)
	ew.printf("  listen_port      = %d\n", n.ListenPort)
	ew.printf("  health_interval  = %q\n", n.HealthInterval)
	ew.printf("  max_restarts     = %d\n", n.MaxRestarts)
	ew.printf("  readiness_window = %q\n", n.ReadinessWindow)
	ew.printf("\n")
}

func renderFoldersSection(ew *errWriter, folders []FolderConfig) {
	for _, f := range folders {
		ew.printf("[[folder]]\n")
		ew.printf("  id      = %q\n", f.ID)
		ew.printf("  path    = %q\n", f.Path)
		ew.printf("  enabled = %t\n", f.Enabled)

		if f.BackupPeer != "" {
			ew.printf("  backup_peer        = %q\n", f.BackupPeer)
			ew.printf("  backup_auto_notify = %t\n", f.AutoNotify)
		}

		ew.printf("\n")
	}
}

func renderPeersSection(ew *errWriter, peers []PeerConfig) {
	for _, p := range peers {
		ew.printf("[[peer]]\n")
		ew.printf("  nickname      = %q\n", p.Nickname)
		ew.printf("  host          = %q\n", p.Host)
		ew.printf("  manifest_port = %d\n", p.ManifestPort)
		ew.printf("  trigger_port  = %d\n", p.TriggerPort)

		if p.PeerID != "" {
			ew.printf("  peer_id       = %q\n", p.PeerID)
		}

		if p.MultiAddr != "" {
			ew.printf("  multiaddr     = %q\n", p.MultiAddr)
		}

		ew.printf("  enabled       = %t\n", p.Enabled)
		ew.printf("\n")
	}
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  manifest_threshold = %d\n", s.ManifestThreshold)
	ew.printf("  queue_tick         = %q\n", s.QueueTick)
	ew.printf("  batch_size         = %d\n", s.BatchSize)
	ew.printf("\n")
}

func renderDiscoverySection(ew *errWriter, d *DiscoveryConfig) {
	ew.printf("[discovery]\n")
	ew.printf("  port       = %d\n", d.Port)
	ew.printf("  allow_list = %v\n", d.AllowList)
	ew.printf("\n")
}

func renderBackupSection(ew *errWriter, b *BackupConfig) {
	ew.printf("[backup]\n")
	ew.printf("  poll_interval             = %q\n", b.PollInterval)
	ew.printf("  max_concurrent_downloads  = %d\n", b.MaxConcurrentFetch)
	ew.printf("  max_retries               = %d\n", b.MaxRetries)
	ew.printf("  auto_delete_tombstones    = %t\n", b.AutoDeleteTomb)
	ew.printf("  trigger_port              = %d\n", b.TriggerPort)
	ew.printf("  state_path                = %q\n", b.StatePath)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
}
