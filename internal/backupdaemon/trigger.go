package backupdaemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// TriggerServer exposes the backup daemon's trigger endpoint: a source
// peer's notifier posts here right after publishing a manifest, so the
// daemon can poll immediately instead of waiting out the full poll
// interval. Unauthenticated: /trigger only requests a poll, and
// /retry/{cid} only re-runs processing of a manifest already in the failed
// partition; the trust model is left to network-layer isolation.
type TriggerServer struct {
	daemon     *Daemon
	logger     *slog.Logger
	httpServer *http.Server
}

// NewTriggerServer builds a TriggerServer bound to addr (e.g.
// "0.0.0.0:8086").
func NewTriggerServer(addr string, daemon *Daemon, logger *slog.Logger) *TriggerServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &TriggerServer{daemon: daemon, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/trigger", s.handleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/retry/{cid}", s.handleRetry).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run starts serving and blocks until ctx is canceled, performing a
// graceful shutdown on cancellation.
func (s *TriggerServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("backup daemon trigger server listening", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err

			return
		}

		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *TriggerServer) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Trigger()
	s.logger.Info("trigger request received and processed")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "poll triggered"})
}

func (s *TriggerServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRetry manually retries one failed manifest regardless of its
// retry count. Operator-facing, guarded the same way as /trigger (no
// auth, network isolation only).
func (s *TriggerServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["cid"]

	if err := s.daemon.RetryManifest(r.Context(), cid); err != nil {
		if errors.Is(err, ErrManifestNotFailed) {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": err.Error()})

			return
		}

		s.logger.Error("manual retry failed", slog.String("manifest_cid", cid), slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "retried_with_error", "message": err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "manifest retried"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
