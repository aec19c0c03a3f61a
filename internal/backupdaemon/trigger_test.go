package backupdaemon

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/config"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/registry"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	cfg := config.BackupConfig{
		PollInterval:       "1h",
		MaxConcurrentFetch: 2,
		MaxRetries:         3,
		TriggerPort:        0,
		StatePath:          filepath.Join(t.TempDir(), "daemon-state.json"),
	}

	client := nodeapi.NewWithBaseURL("http://127.0.0.1:1", nil, nil)
	discoveryClient := registry.NewClient(nil)

	d, err := New(cfg, nil, client, discoveryClient, nil)
	require.NoError(t, err)

	return d
}

func TestTriggerServerHandlesTriggerAndHealth(t *testing.T) {
	d := newTestDaemon(t)
	ts := NewTriggerServer("127.0.0.1:0", d, nil)

	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthW := httptest.NewRecorder()
	ts.httpServer.Handler.ServeHTTP(healthW, healthReq)
	assert.Equal(t, http.StatusOK, healthW.Code)

	triggerReq := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	triggerW := httptest.NewRecorder()
	ts.httpServer.Handler.ServeHTTP(triggerW, triggerReq)
	assert.Equal(t, http.StatusOK, triggerW.Code)

	select {
	case <-d.triggerChan:
	case <-time.After(time.Second):
		t.Fatal("expected trigger to be enqueued")
	}
}

func TestTriggerServerRetryReturnsNotFoundForUnknownManifest(t *testing.T) {
	d := newTestDaemon(t)
	ts := NewTriggerServer("127.0.0.1:0", d, nil)

	req := httptest.NewRequest(http.MethodPost, "/retry/bafy-unknown", nil)
	w := httptest.NewRecorder()
	ts.httpServer.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDaemonTriggerDropsWhenChannelFull(t *testing.T) {
	d := newTestDaemon(t)

	for i := 0; i < cap(d.triggerChan); i++ {
		d.Trigger()
	}

	// One more must not block.
	d.Trigger()

	assert.Len(t, d.triggerChan, cap(d.triggerChan))
}
