package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TAGKOSHA_STORE", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 5000, cfg.TagSanityLimit)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.ReconcileSchedule)

	_, err = cfg.RequireSecret()
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TAGKOSHA_DATABASE_URL", "postgres://localhost/tagkosha")
	t.Setenv("TAGKOSHA_PORT", "9090")
	t.Setenv("TAGKOSHA_TOKEN_SECRET", "s3cret")
	t.Setenv("TAGKOSHA_RECONCILE_SCHEDULE", "@hourly")
	t.Setenv("TAGKOSHA_TX_MAX_ATTEMPTS", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://localhost/tagkosha", cfg.DatabaseURL)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 9, cfg.TxMaxAttempts)
	assert.Equal(t, "@hourly", cfg.ReconcileSchedule)

	secret, err := cfg.RequireSecret()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), secret)
}

func TestLoadDotEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("TAGKOSHA_STORE") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TAGKOSHA_STORE=memory\n"), 0644))
	file := filepath.Join(dir, "tagkosha.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: \"7000\"\ntag_sanity_limit: 10\n"), 0644))
	t.Setenv("TAGKOSHA_PORT", "7001")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, 10, cfg.TagSanityLimit)
}

func TestValidate(t *testing.T) {
	base := Config{Store: StoreMemory, TxMaxAttempts: 1}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"postgres without url": func(c *Config) { c.Store = StorePostgres },
		"unknown store":        func(c *Config) { c.Store = "redis" },
		"long secret":          func(c *Config) { c.TokenSecret = string(make([]byte, 65)) },
		"no attempts":          func(c *Config) { c.TxMaxAttempts = 0 },
		"negative limit":       func(c *Config) { c.TagSanityLimit = -1 },
		"bad schedule":         func(c *Config) { c.ReconcileSchedule = "every tuesday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
