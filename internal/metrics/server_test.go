package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestServer_Handler(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	cfg.ApplyDefaults()

	srv := httptest.NewServer(NewServer(cfg, logger.NewNopLogger()).Handler())
	defer srv.Close()

	EventHandledInc("test-pipeline", "GroupCreated")
	CheckpointPositionSet("test-pipeline", 42)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + cfg.Path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `paymesh_events_handled_total{event_type="GroupCreated",pipeline="test-pipeline"}`)
	require.Contains(t, string(body), `paymesh_checkpoint_position{consumer="test-pipeline"} 42`)
}

func TestServer_DisabledIsNoop(t *testing.T) {
	srv := NewServer(&config.MetricsConfig{Enabled: false}, logger.NewNopLogger())
	require.NoError(t, srv.Start(t.Context()))
	require.NoError(t, srv.Stop(t.Context()))
}
