package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"INFERENCE_API_KEY", "INFERENCE_BASE_URL", "INFERENCE_MODEL", "LOG_LEVEL", "DB_DRIVER",
		"DB_PASSWORD", "STORAGE_DRIVER", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "PORT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
inference:
  apiKey: from-yaml
  model: gemini-2.0-flash
  timeout: 30s
sessions:
  ttl: 5m
database:
  driver: postgres
  host: db
  port: 5432
  user: scan
  password: pw
  name: labels
storage:
  driver: minio
  minio:
    endpoint: minio:9000
    bucketName: previews
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-yaml", cfg.Inference.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Inference.Model)
	assert.Equal(t, 30*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, "host=db port=5432 user=scan password=pw dbname=labels sslmode=disable", cfg.PostgresDSN())
	assert.Equal(t, "previews/", cfg.Storage.Minio.Prefix)

	// defaults
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/openai", cfg.Inference.BaseURL)
	assert.Equal(t, 4096, cfg.Inference.MaxTokens)
	assert.Equal(t, int64(10<<20), cfg.Capture.MaxImageBytes)
	assert.Equal(t, 60*time.Second, cfg.Sessions.MaxWait)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
inference:
  apiKey: from-yaml
`)
	clearEnv(t)
	t.Setenv("INFERENCE_API_KEY", "from-env")
	t.Setenv("INFERENCE_MODEL", "gemini-1.5-flash")
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Inference.APIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.Inference.Model)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "", cfg.Database.Driver)
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("INFERENCE_API_KEY", "k")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gemini-1.5-pro", cfg.Inference.Model)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no api key", `server: {port: 8080}`},
		{"bad db driver", "inference: {apiKey: k}\ndatabase: {driver: sqlite}"},
		{"bad storage driver", "inference: {apiKey: k}\nstorage: {driver: s3}"},
		{"minio without endpoint", "inference: {apiKey: k}\nstorage: {driver: minio}"},
		{"bad port", "inference: {apiKey: k}\nserver: {port: 70000}"},
		{"not yaml", "inference: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	var cfg Config
	cfg.Database.User = "u"
	cfg.Database.Password = "p"
	cfg.Database.Host = "h"
	cfg.Database.Port = 3306
	cfg.Database.Name = "n"
	assert.Equal(t, "u:p@tcp(h:3306)/n?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
}
