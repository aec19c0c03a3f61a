package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/archivist-project/archivist-sync/internal/nodeapi"
)

const (
	healthPollInterval  = 500 * time.Millisecond
	readinessWindow     = 15 * time.Second
	monitorInterval     = 30 * time.Second
	healthyResetWindow  = 5 * time.Minute
	nodeLogFileName     = "node.log"
	nodeLogFilePerm     = 0o644
	nodeDataDirPerm     = 0o755
	defaultMaxRestarts  = 5
)

// Config describes how to spawn and supervise the node child process.
type Config struct {
	BinaryPath    string
	DataDir       string
	APIPort       int
	DiscoveryPort int
	ListenPort    int
	MaxRestarts   int
}

// Supervisor owns the node child process handle.
type Supervisor struct {
	cfg    Config
	client *nodeapi.Client
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	pid          int
	restartCount int
	startedAt    time.Time
	lastError    string
	peerID       string

	logFile *os.File

	healthySince time.Time
	stopMonitor  chan struct{}
}

// New creates a Supervisor bound to cfg. client is used both for the
// readiness poll and the post-start best-effort log-level call.
func New(cfg Config, client *nodeapi.Client, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}

	return &Supervisor{
		cfg:    cfg,
		client: client,
		logger: logger,
		state:  Stopped,
	}
}

// Start runs the full start procedure: orphan cleanup, data directory
// creation, spawn, readiness poll, best-effort log-level set, then
// launches the 30s health monitor.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.startOnce(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.stopMonitor = make(chan struct{})
	s.mu.Unlock()

	go s.monitorLoop()

	return nil
}

// startOnce runs the spawn-and-await-ready sequence without touching the
// health monitor goroutine, so the monitor's own auto-restart path can call
// it without spawning a second monitor loop.
func (s *Supervisor) startOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Running || s.state == Starting {
		s.mu.Unlock()

		return errors.New("supervisor: already running")
	}

	s.state = Starting
	s.lastError = ""
	s.mu.Unlock()

	for _, port := range []int{s.cfg.APIPort, s.cfg.DiscoveryPort, s.cfg.ListenPort} {
		if err := killOrphanOnPort(ctx, port, s.logger); err != nil {
			s.logger.Warn("orphan cleanup failed, continuing", slog.Int("port", port), slog.String("error", err.Error()))
		}
	}

	if err := os.MkdirAll(s.cfg.DataDir, nodeDataDirPerm); err != nil {
		s.setError(err)

		return fmt.Errorf("supervisor: creating data directory: %w", err)
	}

	if err := s.spawn(ctx); err != nil {
		s.setError(err)

		return err
	}

	if err := s.awaitReady(ctx); err != nil {
		s.setError(err)
		s.killChild()

		return err
	}

	s.mu.Lock()
	s.state = Running
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.client != nil {
		if info, err := s.client.Info(ctx); err == nil {
			s.mu.Lock()
			s.peerID = info.PeerID
			s.mu.Unlock()
		}

		if err := s.client.SetLogLevel(ctx, "info"); err != nil {
			s.logger.Debug("setting node log level failed (best-effort)", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (s *Supervisor) spawn(ctx context.Context) error {
	logPath := filepath.Join(s.cfg.DataDir, nodeLogFileName)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, nodeLogFilePerm)
	if err != nil {
		return fmt.Errorf("supervisor: opening node log file: %w", err)
	}

	cmd := exec.Command(s.cfg.BinaryPath,
		"--data-dir", s.cfg.DataDir,
		"--api-port", fmt.Sprint(s.cfg.APIPort),
		"--discovery-port", fmt.Sprint(s.cfg.DiscoveryPort),
		"--listen-port", fmt.Sprint(s.cfg.ListenPort),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()

		return fmt.Errorf("supervisor: attaching stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		logFile.Close()

		return fmt.Errorf("supervisor: attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()

		return fmt.Errorf("supervisor: spawning node: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.logFile = logFile
	s.mu.Unlock()

	go s.pump(stdout, "stdout")
	go s.pump(stderr, "stderr")

	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// pump copies one output stream to the host logger and the append-only log
// file, scanning each line for known fault signatures.
func (s *Supervisor) pump(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		s.mu.Lock()
		if s.logFile != nil {
			fmt.Fprintf(s.logFile, "[%s] %s\n", stream, line)
		}
		s.mu.Unlock()

		s.logger.Info("node output", slog.String("stream", stream), slog.String("line", line))

		switch classifyLine(line) {
		case faultDatastoreCorrupted:
			s.logger.Warn("detected corrupted discovery datastore, will wipe and let health monitor restart")

			go s.recoverCorruptedDatastore()
		case faultPortInUse:
			s.logger.Error("node reported port conflict, this is terminal")
			s.setError(errors.New("port conflict: " + line))
		}
	}
}

func (s *Supervisor) recoverCorruptedDatastore() {
	s.mu.Lock()
	dataDir := s.cfg.DataDir
	s.mu.Unlock()

	s.killChild()

	if err := os.RemoveAll(dataDir); err != nil {
		s.logger.Error("failed to wipe corrupted data directory", slog.String("error", err.Error()))

		return
	}

	s.setError(errors.New("corrupted discovery datastore, wiped; awaiting restart"))
}

// awaitReady polls the node's health endpoint every 500ms up to 15s.
func (s *Supervisor) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(readinessWindow)

	for time.Now().Before(deadline) {
		if s.client != nil && s.client.Health(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}

	return errors.New("supervisor: node did not become healthy within readiness window")
}

// Stop gracefully stops the node child process.
func (s *Supervisor) Stop(_ context.Context) error {
	s.mu.Lock()
	if s.state == Stopped || s.state == Stopping {
		s.mu.Unlock()

		return errors.New("supervisor: not running")
	}

	s.state = Stopping

	if s.stopMonitor != nil {
		close(s.stopMonitor)
		s.stopMonitor = nil
	}
	s.mu.Unlock()

	s.killChild()

	s.mu.Lock()
	s.state = Stopped
	s.pid = 0
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
	s.mu.Unlock()

	return nil
}

func (s *Supervisor) killChild() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Kill()
}

func (s *Supervisor) setError(err error) {
	s.mu.Lock()
	s.state = Error
	s.lastError = err.Error()
	s.mu.Unlock()
}

// Status returns a snapshot, transitioning Running -> Error if the PID
// probe finds the child dead.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running && !processAlive(s.pid) {
		s.state = Error
		s.lastError = "node process not found by PID probe"
	}

	var uptime int64
	if s.state == Running && !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	return Status{
		State:        s.state,
		PID:          s.pid,
		PeerID:       s.peerID,
		UptimeSecs:   uptime,
		RestartCount: s.restartCount,
		LastError:    s.lastError,
	}
}

// monitorLoop runs the 30s health monitor, resetting the restart counter
// after 5 consecutive minutes of healthy status and auto-restarting on
// failure up to MaxRestarts.
func (s *Supervisor) monitorLoop() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	s.mu.Lock()
	stopCh := s.stopMonitor
	s.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.runHealthCheck()
		}
	}
}

func (s *Supervisor) runHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), healthPollInterval*10)
	defer cancel()

	healthy := s.client != nil && s.client.Health(ctx)

	s.mu.Lock()
	state := s.state
	pid := s.pid
	s.mu.Unlock()

	if state != Running && state != Error {
		return
	}

	if state == Running && healthy {
		if s.healthySince.IsZero() {
			s.healthySince = time.Now()
		}

		if time.Since(s.healthySince) > healthyResetWindow {
			s.mu.Lock()
			s.restartCount = 0
			s.mu.Unlock()
			s.healthySince = time.Now()
		}

		return
	}

	s.healthySince = time.Time{}

	if processAlive(pid) {
		return
	}

	s.logger.Warn("node process appears to have crashed")
	s.setError(errors.New("node process terminated unexpectedly"))

	s.mu.Lock()
	canRestart := s.restartCount < s.cfg.MaxRestarts
	s.mu.Unlock()

	if !canRestart {
		s.logger.Error("max restart attempts reached, giving up")

		return
	}

	s.mu.Lock()
	s.restartCount++
	count := s.restartCount
	s.mu.Unlock()

	s.logger.Info("attempting auto-restart", slog.Int("attempt", count), slog.Int("max", s.cfg.MaxRestarts))

	if err := s.startOnce(context.Background()); err != nil {
		s.logger.Error("auto-restart failed", slog.String("error", err.Error()))
	}
}
