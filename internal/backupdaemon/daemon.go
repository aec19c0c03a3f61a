package backupdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/archivist-project/archivist-sync/internal/config"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/registry"
)

// daemonConfig is the daemon's scheduling and download configuration,
// derived from config.BackupConfig with its duration string already parsed.
type daemonConfig struct {
	Peers                  []config.PeerConfig
	PollInterval           time.Duration
	MaxConcurrentDownloads int
	MaxRetries             int
	AutoDeleteTombstones   bool
	TriggerPort            int
	StatePath              string
}

// Daemon is the Backup Daemon: it polls configured source
// peers for manifest descriptors, fetches and applies manifests the local
// node hasn't already processed, and retries failures on subsequent
// cycles.
type Daemon struct {
	cfg             daemonConfig
	client          *nodeapi.Client
	discoveryClient *registry.Client
	state           *stateStore
	logger          *slog.Logger

	triggerChan chan struct{}
}

// New builds a Daemon, opening (or creating) its durable state file at
// cfg.StatePath.
func New(cfg config.BackupConfig, peers []config.PeerConfig, client *nodeapi.Client, discoveryClient *registry.Client, logger *slog.Logger) (*Daemon, error) {
	pollInterval, err := time.ParseDuration(cfg.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("backupdaemon: parsing poll_interval %q: %w", cfg.PollInterval, err)
	}

	store, err := openStateStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Daemon{
		cfg: daemonConfig{
			Peers:                  peers,
			PollInterval:           pollInterval,
			MaxConcurrentDownloads: cfg.MaxConcurrentFetch,
			MaxRetries:             cfg.MaxRetries,
			AutoDeleteTombstones:   cfg.AutoDeleteTomb,
			TriggerPort:            cfg.TriggerPort,
			StatePath:              cfg.StatePath,
		},
		client:          client,
		discoveryClient: discoveryClient,
		state:           store,
		logger:          logger,
		triggerChan:     make(chan struct{}, 10),
	}, nil
}

// Snapshot returns a read-only copy of the daemon's durable state, for
// status reporting.
func (d *Daemon) Snapshot() State {
	return d.state.snapshot()
}

// Trigger requests an immediate cycle, bypassing the poll interval. The
// channel has capacity 10; a trigger arriving while the buffer is full is
// dropped silently, since a pending trigger already guarantees the next
// cycle runs promptly.
func (d *Daemon) Trigger() {
	select {
	case d.triggerChan <- struct{}{}:
	default:
	}
}

// Run is the daemon's main scheduling loop: alternates waiting for the
// poll interval or a trigger, whichever comes first, and running one
// cycle. It returns when ctx is canceled.
func (d *Daemon) Run(ctx context.Context) {
	d.logger.Info("starting backup daemon",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Int("max_concurrent_downloads", d.cfg.MaxConcurrentDownloads),
		slog.Int("trigger_port", d.cfg.TriggerPort),
	)

	for {
		processed, err := d.runCycle(ctx)
		if err != nil {
			d.logger.Error("daemon cycle error", slog.String("error", err.Error()))
		} else if processed > 0 {
			d.logger.Info("processed manifests this cycle", slog.Int("count", processed))
		}

		timer := time.NewTimer(d.cfg.PollInterval)

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
			d.logger.Debug("poll interval elapsed, running cycle")
		case <-d.triggerChan:
			timer.Stop()
			d.logger.Info("trigger received, running cycle immediately")
		}
	}
}

// runCycle is one discover -> filter -> process -> retry -> persist pass.
// It never returns an error for per-manifest failures, only for
// infrastructure problems affecting the whole cycle.
func (d *Daemon) runCycle(ctx context.Context) (int, error) {
	discovered, err := d.discover(ctx, d.cfg.Peers)
	if err != nil {
		d.logger.Warn("discovery cycle had unreachable sources", slog.String("error", err.Error()))
	}

	st := d.state.snapshot()
	unprocessed := filterUnprocessed(discovered, st)

	if len(unprocessed) == 0 {
		d.logger.Debug("no new manifests to process")
	} else {
		d.logger.Info("found unprocessed manifests", slog.Int("count", len(unprocessed)))
	}

	for _, m := range unprocessed {
		if perr := d.processManifest(ctx, m.ManifestCID); perr != nil {
			d.logger.Error("failed to process manifest",
				slog.String("manifest_cid", m.ManifestCID), slog.String("error", perr.Error()))

			continue
		}

		d.logger.Info("successfully processed manifest", slog.String("manifest_cid", m.ManifestCID))
	}

	d.retryFailedManifests(ctx)

	if merr := d.state.mutate(func(s *State) { s.LastPollAt = time.Now().UTC() }); merr != nil {
		return len(unprocessed), fmt.Errorf("backupdaemon: persisting last poll time: %w", merr)
	}

	return len(unprocessed), nil
}

func tempManifestPath(statePath, cid string) (string, error) {
	dir := filepath.Dir(statePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backupdaemon: creating scratch directory: %w", err)
	}

	return filepath.Join(dir, fmt.Sprintf("manifest-%s.tmp", cid)), nil
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backupdaemon: reading %s: %w", path, err)
	}

	return data, nil
}
