package backupdaemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/nodeapi"
)

func TestLoadLocalPresenceMatchesNodeDataListing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/data" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]string{{"cid": "Cone"}, {"cid": "Ctwo"}},
			})

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := nodeapi.NewWithBaseURL(ts.URL, nil, nil)

	presence, err := loadLocalPresence(context.Background(), client)
	require.NoError(t, err)

	assert.True(t, presence.has("Cone"))
	assert.True(t, presence.has("Ctwo"))
	assert.False(t, presence.has("Cmissing"))
}
