package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/nodeapi"
)

// fakeNodeScript writes a shell script that sleeps, standing in for the
// real node binary so Start() has a real child process to supervise.
func fakeNodeScript(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "fake-node.sh")

	script := "#!/bin/sh\nsleep 60\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSupervisorStartReachesRunning(t *testing.T) {
	healthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/archivist/v1/debug/info" {
			w.Write([]byte(`{"id":"peer-xyz"}`))

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer healthSrv.Close()

	client := nodeapi.NewWithBaseURL(healthSrv.URL+"/api/archivist/v1", healthSrv.Client(), discardLogger())

	dataDir := t.TempDir()

	sup := New(Config{
		BinaryPath: fakeNodeScript(t),
		DataDir:    dataDir,
		APIPort:    18080,
	}, client, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sup.Start(ctx))

	status := sup.Status()
	assert.Equal(t, Running, status.State)
	assert.Equal(t, "peer-xyz", status.PeerID)
	assert.Positive(t, status.PID)

	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, Stopped, sup.Status().State)
}

func TestSupervisorStatusTransitionsToErrorWhenProcessDies(t *testing.T) {
	healthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthSrv.Close()

	client := nodeapi.NewWithBaseURL(healthSrv.URL+"/api/archivist/v1", healthSrv.Client(), discardLogger())

	dataDir := t.TempDir()
	quickExit := filepath.Join(dataDir, "quick-exit.sh")
	require.NoError(t, os.WriteFile(quickExit, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	sup := New(Config{
		BinaryPath: quickExit,
		DataDir:    dataDir,
		APIPort:    18081,
	}, client, discardLogger())

	sup.mu.Lock()
	sup.state = Running
	sup.pid = 999999999
	sup.mu.Unlock()

	status := sup.Status()
	assert.Equal(t, Error, status.State)
}

func TestSupervisorDoubleStartRejected(t *testing.T) {
	sup := New(Config{BinaryPath: fakeNodeScript(t), DataDir: t.TempDir(), APIPort: 18082}, nil, discardLogger())

	sup.mu.Lock()
	sup.state = Running
	sup.mu.Unlock()

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}
