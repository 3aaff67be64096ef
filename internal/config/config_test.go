package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: production
  port: 9000
mongo:
  uri: mongodb://yaml:27017
jwt:
  secret: from-yaml
security:
  bcrypt_cost: 2
`), 0o600))

	t.Setenv("MONGO_URI", "mongodb://env:27017")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SECURITY_RESET_TTL", "30m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "mongodb://env:27017", cfg.Mongo.URI)
	assert.Equal(t, "from-yaml", cfg.JWT.Secret)
	assert.Equal(t, 4, cfg.Security.BcryptCost)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Security.ResetTTL)
	assert.Equal(t, 24*time.Hour, cfg.Security.VerificationTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "users", cfg.Mongo.UserCollection)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "JWT_SECRET")
}
