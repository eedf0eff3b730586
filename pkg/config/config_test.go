package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 3100
database:
  host: db
  port: 5433
rabbitmq:
  enabled: true
payments:
  verify_timeout: 3s
  gateways:
    - name: razorpay
      kind: signature
      secret: s3cret
ingestion:
  integrations:
    - platform: swiggy
      active: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3100, cfg.Server.Port)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.True(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Payments.VerifyTimeout)
	require.Len(t, cfg.Payments.Gateways, 1)
	assert.Equal(t, "razorpay", cfg.Payments.Gateways[0].Name)
	require.Len(t, cfg.Ingestion.Integrations, 1)

	// untouched sections keep defaults
	assert.Equal(t, 5*time.Minute, cfg.Ingestion.PendingTTL)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 3100\n")
	t.Setenv("SERVER_PORT", "4000")
	t.Setenv("POSTGRES_HOST", "pg.internal")
	t.Setenv("PAYMENTS_VERIFY_TIMEOUT", "7s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, 7*time.Second, cfg.Payments.VerifyTimeout)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Payments.VerifyTimeout)
}

func TestLoadConfigRejectsUnknownGatewayKind(t *testing.T) {
	path := writeConfig(t, `
payments:
  gateways:
    - name: odd
      kind: carrier-pigeon
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Database: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
}
