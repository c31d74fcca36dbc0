package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonunix/floe/internal/metrics"
)

func TestMetricsMux(t *testing.T) {
	metrics.RecordFlush(1, nil)
	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRun_MissingConfig(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "nope.yaml"), true, 0)
	assert.ErrorContains(t, err, "loading configuration")
}

func TestRun_InvalidScheduleReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  addresses: ["http://127.0.0.1:1"]
index:
  default: "events"
maintenance:
  schedule: "not a schedule"
`), 0644))

	err := run(path, false, 0)
	assert.ErrorContains(t, err, "invalid cron schedule")
}
