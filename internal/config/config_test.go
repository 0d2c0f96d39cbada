package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8090", cfg.Server.ListenAddr)
	assert.Equal(t, "data/ledger", cfg.Ledger.BasePath)
	assert.Equal(t, int64(64<<20), cfg.Ledger.HotMaxBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.Lifecycle.WarmRetention)
	assert.Equal(t, 10000, cfg.Repository.MaxSize)
	assert.Equal(t, "poll", cfg.Source.Mode)
	assert.Empty(t, cfg.Database.DSN, "postgres is off by default")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omen.yaml")
	body := `
logging:
  level: debug
ledger:
  base_path: /var/lib/omen/ledger
  hot_max_bytes: 1048576
consumer:
  base_url: http://consumer.internal:8080
source:
  mode: stream
reconcile:
  job:
    interval: 30s
    persist_every: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/omen/ledger", cfg.Ledger.BasePath)
	assert.Equal(t, int64(1048576), cfg.Ledger.HotMaxBytes)
	assert.Equal(t, "http://consumer.internal:8080", cfg.Consumer.BaseURL)
	assert.Equal(t, "stream", cfg.Source.Mode)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Job.Interval)
	assert.Equal(t, 10, cfg.Reconcile.Job.PersistEvery)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10000, cfg.Repository.MaxSize)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consumer:\n  base_url: http://from-file:8080\n"), 0o644))

	t.Setenv("CONSUMER_URL", "http://from-env:8080")
	t.Setenv("LEDGER_BASE_PATH", "/srv/omen/ledger")
	t.Setenv("HOT_MAX_SIZE_BYTES", "2097152")
	t.Setenv("HOT_MAX_AGE_SECONDS", "900")
	t.Setenv("WARM_RETENTION_DAYS", "3")
	t.Setenv("COLD_RETENTION_DAYS", "14")
	t.Setenv("DELETE_AFTER_DAYS", "90")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "120")
	t.Setenv("REPO_MAX_SIZE", "500")
	t.Setenv("RISKCAST_DB_PATH", "postgres://omen:omen@db:5432/omen")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8080", cfg.Consumer.BaseURL)
	assert.Equal(t, "/srv/omen/ledger", cfg.Ledger.BasePath)
	assert.Equal(t, filepath.Join("/srv/omen/ledger", "archive"), cfg.Lifecycle.ArchivePath,
		"derived archive path follows the base")
	assert.Equal(t, int64(2097152), cfg.Ledger.HotMaxBytes)
	assert.Equal(t, 15*time.Minute, cfg.Ledger.HotMaxAge)
	assert.Equal(t, 3*24*time.Hour, cfg.Lifecycle.WarmRetention)
	assert.Equal(t, 14*24*time.Hour, cfg.Lifecycle.ColdRetention)
	assert.Equal(t, 90*24*time.Hour, cfg.Lifecycle.DeleteAfter)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.Job.Interval)
	assert.Equal(t, 500, cfg.Repository.MaxSize)
	assert.Equal(t, "postgres://omen:omen@db:5432/omen", cfg.Database.DSN)
}

func TestLoad_ExplicitArchivePathSurvivesBaseOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lifecycle:\n  archive_path: /mnt/tape/omen\n"), 0o644))

	t.Setenv("LEDGER_BASE_PATH", "/srv/omen/ledger")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/tape/omen", cfg.Lifecycle.ArchivePath)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("REPO_MAX_SIZE", "not-a-number")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownSourceMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  mode: carrier-pigeon\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
