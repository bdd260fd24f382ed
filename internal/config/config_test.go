package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskcalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// chdir changes the working directory for the duration of the test
// (a stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  quota_window: 30s
repository:
  sqlite_path: /var/lib/riskcalc/riskcalc.db
catalog:
  path: /etc/riskcalc/catalog.yaml
  seed_repository: true
calculation:
  result_ttl: 2h
logging:
  level: debug
  file: /var/log/riskcalc.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.QuotaWindow)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep their defaults")
	assert.Equal(t, "/var/lib/riskcalc/riskcalc.db", cfg.Repository.SQLitePath)
	assert.Equal(t, "/etc/riskcalc/catalog.yaml", cfg.Catalog.Path)
	assert.True(t, cfg.Catalog.SeedRepository)
	assert.Equal(t, 2*time.Hour, cfg.Calculation.ResultTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/log/riskcalc.log", cfg.Logging.File)
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("RISKCALC_SERVER_PORT", "7070")
	t.Setenv("RISKCALC_CALCULATION_MAX_PARALLEL", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, 2, cfg.Calculation.MaxParallel)
}

func TestLoadClusterProfile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RISKCALC_PROFILE", "cluster")
	t.Setenv("RISKCALC_REPOSITORY_POSTGRES_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileCluster, cfg.Profile)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "db.internal", cfg.Repository.PostgresHost)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Calculation.Workers)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [\n"))
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := Load(writeConfig(t, "repository:\n  driver: mysql\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported repository driver")
	})
}
