package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://app.example.com"]

database:
  url: "postgres://localhost/dispatch?sslmode=disable"

dispatch:
  interval_ms: 1500
  lock_ttl_seconds: 60
  restart_recovered: true

ses:
  enabled: true
  region: "eu-west-1"
  from_email: "news@example.com"
  timeout_seconds: 10

export:
  s3_bucket: "audit-bucket"
  s3_prefix: "logs/"

logging:
  level: "debug"
  redact_pii: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/dispatch?sslmode=disable", cfg.Database.URL)

	assert.Equal(t, 1500*time.Millisecond, cfg.Dispatch.Interval())
	assert.Equal(t, time.Minute, cfg.Dispatch.LockTTL())
	assert.True(t, cfg.Dispatch.RestartRecovered)

	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, 10*time.Second, cfg.SES.Timeout())

	assert.Equal(t, "audit-bucket", cfg.Export.S3Bucket)
	assert.Equal(t, "logs/", cfg.Export.S3Prefix)
	assert.Equal(t, "eu-west-1", cfg.Export.AWSRegion, "export region falls back to the SES region")

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.RedactPII)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, time.Second, cfg.Dispatch.Interval())
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.LockTTL())
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.RecoveryInterval())
	assert.Equal(t, 30*time.Second, cfg.SES.Timeout())
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "send-logs/", cfg.Export.S3Prefix)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.SES.Enabled)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DISPATCH_INTERVAL_MS", "2000")
	t.Setenv("AWS_SES_ACCESS_KEY", "AKIA")
	t.Setenv("AWS_SES_SECRET_KEY", "secret")
	t.Setenv("AWS_SES_REGION", "us-east-1")
	t.Setenv("SES_FROM_EMAIL", "env@example.com")
	t.Setenv("EXPORT_S3_BUCKET", "env-bucket")
	t.Setenv("SERVER_PORT", "7000")

	cfg, err := LoadFromEnv(writeConfig(t, "dispatch:\n  interval_ms: 500\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.Interval())
	assert.True(t, cfg.SES.HasCredentials())
	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, "env@example.com", cfg.SES.FromEmail)
	assert.Equal(t, "env-bucket", cfg.Export.S3Bucket)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadFromEnvBadNumber(t *testing.T) {
	t.Setenv("DISPATCH_INTERVAL_MS", "fast")
	_, err := LoadFromEnv("")
	assert.Error(t, err)
}
