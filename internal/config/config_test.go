package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultRedisURL, cfg.BrokerURL)
	assert.Equal(t, DefaultRedisURL, cfg.ResultBackend)
	assert.Equal(t, "default", cfg.Queue)
	assert.Equal(t, time.Second, cfg.PingTimeout)
	assert.Equal(t, 2*time.Second, cfg.Worker.OCRDelay)
	assert.Equal(t, 24*time.Hour, cfg.ResultExpires)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("CELERY_RESULT_BACKEND", "redis://results:6379/2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379/1", cfg.BrokerURL)
	assert.Equal(t, "redis://results:6379/2", cfg.ResultBackend)
}

func TestLoadPrefixedEnvWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CELERY_BROKER_URL", "redis://legacy:6379/0")
	t.Setenv("STOPRO_BROKER_URL", "redis://broker:6379/0")
	t.Setenv("STOPRO_WORKER_CONCURRENCY", "4")
	t.Setenv("STOPRO_PING_TIMEOUT", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis://broker:6379/0", cfg.BrokerURL)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.PingTimeout)
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "stopro.yaml")
	body := `
queue: ai
worker:
  concurrency: 3
  task_time_limit: 30s
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ai", cfg.Queue)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Worker.TaskTimeLimit)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	for name, env := range map[string][2]string{
		"concurrency": {"STOPRO_WORKER_CONCURRENCY", "0"},
		"log level":   {"STOPRO_LOG_LEVEL", "loud"},
		"heartbeat":   {"STOPRO_WORKER_HEARTBEAT_TTL", "1s"},
		"recovery":    {"STOPRO_SCHEDULER_RECOVERY_INTERVAL", "0s"},
		"stale after": {"STOPRO_SCHEDULER_HEARTBEAT_TIMEOUT", "2s"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
