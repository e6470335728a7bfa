package exporter

import (
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keelstore/pkg/alert"
	"keelstore/pkg/config"
	"keelstore/pkg/engine"
	"keelstore/pkg/journal"
)

func exporterEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := engine.Open(config.Config{
		VolumePath:       filepath.Join(dir, "x.v01"),
		JournalPath:      filepath.Join(dir, "x_journal"),
		PageSize:         1024,
		BufferCount:      64,
		JournalBlockSize: journal.DefaultBlockSize,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestMetricsEndpoint(t *testing.T) {
	e := exporterEngine(t)
	x := New(e)

	server := httptest.NewServer(x.Router())
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body := readBody(t, resp.Body)
	assert.Contains(t, body, "keelstore_journal_current_address")
	assert.Contains(t, body, "keelstore_alert_level")
}

func TestAlertsEndpoint(t *testing.T) {
	e := exporterEngine(t)
	e.Alerts().Post("io", alert.NewEvent("disk trouble on %s", "x"), alert.LevelWarn)

	x := New(e)
	server := httptest.NewServer(x.Router())
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := readBody(t, resp.Body)
	assert.Contains(t, body, `"category":"io"`)
	assert.Contains(t, body, `"level":"WARN"`)
}

func readBody(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}
