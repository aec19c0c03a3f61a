package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archivist-project/archivist-sync/internal/config"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. This gives long-lived tasks time to drain
// in-flight work on the first signal, while
// letting the operator force-quit if something hangs. SIGHUP reloads the
// config file into holder instead of touching the context at all. Only
// readers of holder see the reloaded values (the notifier's folder and peer
// lookups); the sync engine's folders and the backup daemon's peer list
// keep the values they were built with until the daemon restarts.
func shutdownContext(parent context.Context, holder *config.Holder, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		shuttingDown := false

		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					reloadConfig(holder, logger)

					continue
				}

				if shuttingDown {
					logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
					os.Exit(1)
				}

				logger.Info("received signal, initiating graceful shutdown", slog.String("signal", sig.String()))
				shuttingDown = true
				cancel()
			case <-parent.Done():
				return
			}
		}
	}()

	return ctx
}

// reloadConfig re-reads the config file at holder.Path() and swaps it into
// holder on success. The resolved data directory is carried over from the
// running config rather than re-derived from env/CLI overrides, since a
// live daemon cannot relocate its own data directory mid-run. A failed
// reload leaves the previous configuration in place.
func reloadConfig(holder *config.Holder, logger *slog.Logger) {
	path := holder.Path()

	logger.Info("SIGHUP received, reloading config", slog.String("path", path))

	cfg, err := config.LoadOrDefault(path, logger)
	if err != nil {
		logger.Error("config reload failed, keeping previous configuration", slog.String("error", err.Error()))

		return
	}

	cfg.Node.DataDir = holder.Config().Node.DataDir
	holder.Update(cfg)

	logger.Info("config reloaded successfully", slog.String("path", path))
}
