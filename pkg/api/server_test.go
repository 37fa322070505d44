package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covekit/cove/pkg/config"
	"github.com/covekit/cove/pkg/pool"
	"github.com/covekit/cove/pkg/volume"
)

func newTestServer(t *testing.T) (*Server, *volume.Service) {
	t.Helper()
	dir := t.TempDir()
	p, err := pool.Open(filepath.Join(dir, "pool"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	svc, err := volume.NewService(&volume.ServiceConfig{
		Config: config.NewStore(filepath.Join(dir, "volume.json")),
		Pool:   p,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	return NewServer(svc, nil, "test"), svc
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "test", response.Version)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "ok", response.Checks["identity"])
	assert.Equal(t, "ok", response.Checks["pool"])
}

func TestVolumesHandler(t *testing.T) {
	srv, svc := newTestServer(t)

	vol, err := svc.Create("thevolume")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/volumes", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var infos []VolumeInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "thevolume", infos[0].Name)
	assert.Equal(t, vol.OwnerUUID, infos[0].OwnerUUID)
	assert.Empty(t, infos[0].Snapshots)
}

func TestEventsHandler_NoBroker(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
