// Package app is the composition root: it wires the node API client,
// supervisor, sync engine, discovery server and client, backup daemon,
// trigger server and notifier from one resolved configuration, and owns
// the shutdown broadcast context that all long-lived tasks observe.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/archivist-project/archivist-sync/internal/backupdaemon"
	"github.com/archivist-project/archivist-sync/internal/config"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/notifier"
	"github.com/archivist-project/archivist-sync/internal/registry"
	"github.com/archivist-project/archivist-sync/internal/supervisor"
	"github.com/archivist-project/archivist-sync/internal/syncengine"
	"github.com/archivist-project/archivist-sync/internal/syncengine/store"
)

const (
	// SyncDBFileName is the sync engine's durable store filename under the
	// node data directory, exported so read-only consumers (the status
	// command) can open it without duplicating the path.
	SyncDBFileName      = "sync.db"
	backupStateFileName = "backup-state.json"
)

// App bundles every long-lived subsystem built from one resolved Config.
// New always builds both the source side (Engine) and the backup side
// (Daemon); the Role passed to Run decides which of them run, so one
// process acts as a source peer, a backup peer, or both.
type App struct {
	holder *config.Holder
	logger *slog.Logger

	NodeClient      *nodeapi.Client
	Supervisor      *supervisor.Supervisor
	Engine          *syncengine.Engine
	Registry        *registry.Registry
	DiscoveryServer *registry.Server
	Daemon          *backupdaemon.Daemon
	TriggerServer   *backupdaemon.TriggerServer
	Notifier        *notifier.Notifier

	store *store.Store
}

// New builds an App from holder's current configuration. It opens the
// sync engine's durable store and registers every configured folder, but
// does not start any goroutines — call Run for that.
func New(ctx context.Context, holder *config.Holder, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := holder.Config()

	nodeClient := nodeapi.New(cfg.Node.APIPort, nil, logger)

	sup := supervisor.New(supervisor.Config{
		BinaryPath:    cfg.Node.BinaryPath,
		DataDir:       cfg.Node.DataDir,
		APIPort:       cfg.Node.APIPort,
		DiscoveryPort: cfg.Node.DiscoveryPort,
		ListenPort:    cfg.Node.ListenPort,
		MaxRestarts:   cfg.Node.MaxRestarts,
	}, nodeClient, logger)

	reg := registry.New()
	allowList := registry.NewAllowList(cfg.Discovery.AllowList)
	discoveryServer := registry.NewServer(fmt.Sprintf(":%d", cfg.Discovery.Port), reg, allowList, logger)

	st, err := store.Open(filepath.Join(cfg.Node.DataDir, SyncDBFileName), logger)
	if err != nil {
		return nil, fmt.Errorf("app: opening sync store: %w", err)
	}

	engineCfg, err := syncEngineConfig(cfg.Sync)
	if err != nil {
		st.Close()

		return nil, err
	}

	engine := syncengine.New(engineCfg, nodeClient, st, discoveryServer, logger)

	for _, f := range cfg.Folders {
		if err := engine.AddFolder(ctx, f.ID, f.Path, f.Enabled); err != nil {
			st.Close()

			return nil, fmt.Errorf("app: registering folder %q: %w", f.ID, err)
		}
	}

	backupCfg := cfg.Backup
	if backupCfg.StatePath == "" {
		backupCfg.StatePath = filepath.Join(cfg.Node.DataDir, backupStateFileName)
	}

	discoveryClient := registry.NewClient(nil)

	daemon, err := backupdaemon.New(backupCfg, cfg.Peers, nodeClient, discoveryClient, logger)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("app: building backup daemon: %w", err)
	}

	triggerServer := backupdaemon.NewTriggerServer(fmt.Sprintf(":%d", backupCfg.TriggerPort), daemon, logger)

	notify := notifier.New(nodeClient, nil, engine, holder, logger)

	return &App{
		holder:          holder,
		logger:          logger,
		NodeClient:      nodeClient,
		Supervisor:      sup,
		Engine:          engine,
		Registry:        reg,
		DiscoveryServer: discoveryServer,
		Daemon:          daemon,
		TriggerServer:   triggerServer,
		Notifier:        notify,
		store:           st,
	}, nil
}

func syncEngineConfig(s config.SyncConfig) (syncengine.Config, error) {
	tick, err := time.ParseDuration(s.QueueTick)
	if err != nil {
		return syncengine.Config{}, fmt.Errorf("app: parsing sync.queue_tick: %w", err)
	}

	return syncengine.Config{
		ManifestThreshold: s.ManifestThreshold,
		QueueTick:         tick,
		BatchSize:         s.BatchSize,
	}, nil
}

// Role selects which of the source/backup task groups Run starts, since a
// single configuration's folders and peers determine which roles are
// actually meaningful.
type Role int

const (
	// RoleSource runs folder watching, manifest authoring, the discovery
	// server, and the notifier.
	RoleSource Role = 1 << iota
	// RoleBackup runs the backup daemon's main loop and trigger server.
	RoleBackup

	RoleBoth = RoleSource | RoleBackup
)

// Run starts the node supervisor plus every long-lived task role selects
// and blocks until ctx is canceled, at which point it
// waits for all tasks to observe shutdown and return before closing the
// durable store.
func (a *App) Run(ctx context.Context, role Role) error {
	defer a.store.Close()

	if err := a.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("app: starting node supervisor: %w", err)
	}
	defer a.Supervisor.Stop(context.Background())

	var wg sync.WaitGroup

	runTask := func(name string, fn func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := fn(ctx); err != nil {
				a.logger.Error("long-lived task exited with error", slog.String("task", name), slog.String("error", err.Error()))
			}
		}()
	}

	runBackground := func(name string, fn func(context.Context)) {
		wg.Add(1)

		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if role&RoleSource != 0 {
		if err := a.Engine.Start(ctx); err != nil {
			return fmt.Errorf("app: starting sync engine: %w", err)
		}
		defer a.Engine.Stop()

		runTask("discovery_server", a.DiscoveryServer.Run)
		runBackground("notification_loop", a.Notifier.Run)
		runBackground("registry_peer_id", a.populatePeerID)
	}

	if role&RoleBackup != 0 {
		runTask("trigger_server", a.TriggerServer.Run)
		runBackground("backup_daemon", a.Daemon.Run)
	}

	<-ctx.Done()

	wg.Wait()

	return nil
}

// populatePeerID fills the registry's local peer id once the node's info
// call first succeeds, retrying until then. The discovery server serves an
// empty peerId in the window before the node is up.
func (a *App) populatePeerID(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		if info, err := a.NodeClient.Info(ctx); err == nil {
			a.Registry.SetPeerID(info.PeerID)

			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
