package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const orphanKillWait = 500 * time.Millisecond

// killOrphanOnPort locates a process listening on port (best-effort, via the
// `ss` utility) and sends it a termination signal, waiting up to 500ms for
// it to exit. Absence of `ss`, or no listener on the
// port, is not an error — it just means there is nothing to clean up.
func killOrphanOnPort(ctx context.Context, port int, logger *slog.Logger) error {
	pid, err := findPIDOnPort(ctx, port)
	if err != nil {
		logger.Debug("orphan-port lookup unavailable, skipping cleanup",
			slog.Int("port", port), slog.String("error", err.Error()))

		return nil
	}

	if pid == 0 {
		return nil
	}

	logger.Warn("killing orphaned process holding port",
		slog.Int("port", port), slog.Int("pid", pid))

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("supervisor: finding orphan process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("supervisor: terminating orphan process %d: %w", pid, err)
	}

	time.Sleep(orphanKillWait)

	return nil
}

// findPIDOnPort shells out to `ss -tlnp` (Linux) to find the PID of a
// process listening on the given TCP port. Returns pid 0 with no error if
// nothing is listening.
func findPIDOnPort(ctx context.Context, port int) (int, error) {
	cmd := exec.CommandContext(ctx, "ss", "-tlnp")

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("running ss: %w", err)
	}

	portSuffix := fmt.Sprintf(":%d", port)

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, portSuffix) {
			continue
		}

		if pid, ok := extractPIDFromSSLine(line); ok {
			return pid, nil
		}
	}

	return 0, nil
}

// extractPIDFromSSLine parses the `pid=<N>` token out of an `ss -tlnp`
// process-info column, e.g. `users:(("archivist",pid=1234,fd=9))`.
func extractPIDFromSSLine(line string) (int, bool) {
	idx := strings.Index(line, "pid=")
	if idx == -1 {
		return 0, false
	}

	rest := line[idx+len("pid="):]

	end := strings.IndexAny(rest, ",)")
	if end == -1 {
		end = len(rest)
	}

	pid, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}

	return pid, true
}
