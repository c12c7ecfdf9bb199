package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/index"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/staging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
)

const catalogue = `# Title : Profile directory file of the Argo Global Data Assembly Center
file,date,latitude,longitude,ocean,profiler_type,institution,date_update
incois/2901001/profiles/R2901001_001.nc,20210305120000,-12.5,75.0,I,846,IF,20210310000000
aoml/3900001/profiles/R3900001_001.nc,20210305120000,35.0,-40.0,A,846,AO,20210310000000
`

type env struct {
	dir    string
	config string
}

// newEnv writes a config file whose paths live in a temp dir and whose
// index points at a local server.
func newEnv(t *testing.T) env {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "ARGO_INDEX_URL", "ARGO_BASE_URL", "DATA_RAW_DIR", "DATA_PROCESSED_DIR", "DATA_LOGS_DIR", "FETCH_LIMIT", "FETCH_WORKERS", "METRICS_ENABLED", "INDEX_TIMEOUT", "DB_MAX_CONNS"} {
		t.Setenv(k, "")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ar_index_global_prof.txt" {
			fmt.Fprint(w, catalogue)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`index:
  url: %[1]s/ar_index_global_prof.txt
fetch:
  base_url: %[1]s/dac
  limit: 7
paths:
  raw_dir: %[2]s/raw
  processed_dir: %[2]s/processed
  logs_dir: %[2]s/logs
`, srv.URL, dir)
	path := filepath.Join(dir, "argo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return env{dir: dir, config: path}
}

func execute(t *testing.T, e env, args ...string) (*app, string, error) {
	t.Helper()
	a := &app{}
	root := a.rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.config, "--env-file", filepath.Join(e.dir, "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return a, out.String(), err
}

func TestFlagsOverrideConfig(t *testing.T) {
	e := newEnv(t)

	a, _, err := execute(t, e, "--workers", "4", "--log-level", "debug", "index")
	require.NoError(t, err)
	assert.Equal(t, 4, a.cfg.Fetch.Workers)
	assert.Equal(t, 7, a.cfg.Fetch.Limit)
	assert.Equal(t, 3, a.cfg.Fetch.Retries)
	assert.Equal(t, "debug", a.cfg.Log.Level)

	a, _, err = execute(t, e, "--limit", "0", "index")
	require.NoError(t, err)
	assert.Equal(t, 0, a.cfg.Fetch.Limit)
}

func TestInvalidFlagIsRejected(t *testing.T) {
	e := newEnv(t)
	_, _, err := execute(t, e, "--workers", "0", "index")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_WORKERS")
}

func TestIndexCommandWritesCatalogue(t *testing.T) {
	e := newEnv(t)

	_, out, err := execute(t, e, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, "index")

	rows, err := index.ReadCSV(filepath.Join(e.dir, "processed", "argo_index_filtered.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "incois/2901001/profiles/R2901001_001.nc", rows[0].Path)
}

func TestIndexWithMetricsServerStops(t *testing.T) {
	e := newEnv(t)
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("METRICS_ADDR", "127.0.0.1:0")

	done := make(chan error, 1)
	go func() {
		_, _, err := execute(t, e, "index")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("index did not return while the metrics server was running")
	}
}

func TestStatsRequiresDatabase(t *testing.T) {
	e := newEnv(t)
	_, _, err := execute(t, e, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDryRunUsesMemoryStore(t *testing.T) {
	e := newEnv(t)

	st, err := storage.NewLocalStore(filepath.Join(e.dir, "processed"), "staging/")
	require.NoError(t, err)
	v := 10.0
	batch := argo.Batch{
		Floats: []argo.Float{{ID: "2901001", Status: argo.StatusActive}},
		Profiles: []argo.Profile{{
			ID: "2901001_001", FloatID: "2901001", Cycle: 1,
			Latitude: -12.5, Longitude: 75,
			Date:   time.Date(2021, 3, 5, 12, 0, 0, 0, time.UTC),
			Levels: 1,
		}},
		Measurements: []argo.Measurement{{
			ProfileID: "2901001_001", Level: 0, Pressure: &v,
			PressureQC: qc.OK('1'), TemperatureQC: qc.Missing(), SalinityQC: qc.Missing(),
		}},
	}
	_, err = staging.NewWriter(st, staging.ProducerInfo{Name: "test"}, logging.Discard()).Write(context.Background(), batch, "run-1")
	require.NoError(t, err)

	_, out, err := execute(t, e, "load", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run, nothing written")
	assert.Contains(t, out, "measurements")
	assert.Contains(t, out, "2021-03-05 to 2021-03-05")
}

func TestLoadWithoutStagedBatchFails(t *testing.T) {
	e := newEnv(t)
	_, _, err := execute(t, e, "load", "--dry-run")
	require.Error(t, err)
	var pre *argo.PrerequisiteMissingError
	assert.ErrorAs(t, err, &pre)
}
