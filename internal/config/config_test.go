package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "pergola.yaml", `
graph: logs
processes: processes.yaml
store:
  type: redis
  redis_addr: localhost:6379
  ttl: 1h
  lock: true
log:
  level: debug
  format: json
engine:
  max_concurrency: 4
  recursion_limit: 50
  history_limit: 0
  interrupt_before: [human_feedback]
redact:
  - '(?i)password|token'
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "logs", cfg.Graph)
	assert.Equal(t, "processes.yaml", cfg.Processes)
	assert.Equal(t, config.StoreRedis, cfg.Store.Type)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.True(t, cfg.Store.Lock)
	assert.Equal(t, "pergola:", cfg.Store.Prefix, "unset keys keep their defaults")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	require.NotNil(t, cfg.Engine.HistoryLimit)
	assert.Equal(t, 0, *cfg.Engine.HistoryLimit)
	assert.Equal(t, []string{"human_feedback"}, cfg.Engine.InterruptBefore)
	assert.Len(t, cfg.Redact, 1)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "pergola.json", `{"store": {"type": "file", "path": "/tmp/threads"}}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.StoreFile, cfg.Store.Type)
	assert.Equal(t, "/tmp/threads", cfg.Store.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PERGOLA_STORE", "redis")
	t.Setenv("PERGOLA_REDIS_ADDR", "cache:6379")
	t.Setenv(config.EncryptionKeyEnv, strings.Repeat("ab", 32))

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.StoreRedis, cfg.Store.Type)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Len(t, cfg.EncryptionKey, 32)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     string
		wantErr string
	}{
		{name: "unknown store", content: "store: {type: s3}", wantErr: "unknown store type"},
		{name: "redis without addr", content: "store: {type: redis}", wantErr: "redis_addr is required"},
		{name: "lock without redis", content: "store: {lock: true}", wantErr: "requires the redis store"},
		{name: "negative limits", content: "engine: {max_concurrency: -1}", wantErr: "must not be negative"},
		{name: "short key", content: "", env: "abcd", wantErr: "32 bytes"},
		{name: "bad hex", content: "", env: "zz", wantErr: "invalid hex"},
		{name: "bad redact pattern", content: "redact: ['(']", wantErr: "redact pattern"},
		{name: "bad yaml", content: "store: [", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv(config.EncryptionKeyEnv, tt.env)
			}
			_, err := config.Load(writeFile(t, "pergola.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
