package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "vesting.yaml", `
server:
  listen_addr: ":9000"
  shutdown_timeout: 5s
storage:
  mode: postgres
  postgres_dsn: postgres://localhost/vesting
vesting:
  custody_scope: receiver
  default_shape: CONTINUOUS_LINEAR
feed:
  client_buffer: 16
dev_mode: true
`)

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, StoragePostgres, cfg.Storage.Mode)
	assert.Equal(t, "receiver", cfg.Vesting.CustodyScope)
	assert.Equal(t, "CONTINUOUS_LINEAR", cfg.Vesting.DefaultShape)
	assert.Equal(t, DefaultProgramID, cfg.Vesting.ProgramID)
	assert.Equal(t, 16, cfg.Feed.ClientBuffer)
	assert.True(t, cfg.DevMode)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, "vesting.yaml", "storage:\n  backend: memory\n")
	err := Default().LoadFile(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"VESTING_STORAGE":       "postgres",
		"POSTGRES_DSN":          "postgres://db/vesting",
		"CLICKHOUSE_DSN":        "clickhouse://ch:9000/vesting",
		"VESTING_CLOCK":         "cluster",
		"SOLANA_RPC_ENDPOINT":   "http://rpc.local",
		"VESTING_DEV_MODE":      "true",
		"VESTING_MAX_TOKEN_AGE": "90s",
		"VESTING_CUSTODY_SCOPE": "",
	}))
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Mode)
	assert.Equal(t, "postgres://db/vesting", cfg.Storage.PostgresDSN)
	assert.Equal(t, "clickhouse://ch:9000/vesting", cfg.Storage.ClickHouseDSN)
	assert.Equal(t, ClockCluster, cfg.Clock.Source)
	assert.Equal(t, "http://rpc.local", cfg.Clock.RPCEndpoint)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 90*time.Second, cfg.Auth.MaxTokenAge)
	assert.Equal(t, "mint", cfg.Vesting.CustodyScope, "empty values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadValues(t *testing.T) {
	require.Error(t, Default().ApplyEnv(envMap(map[string]string{"VESTING_DEV_MODE": "maybe"})))
	require.Error(t, Default().ApplyEnv(envMap(map[string]string{"VESTING_MAX_TOKEN_AGE": "soon"})))
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--listen", ":7000", "--dev"}))

	cfg := Default()
	cfg.Storage.Mode = StoragePostgres
	cfg.Storage.PostgresDSN = "postgres://from-env"
	cfg.Storage.Migrate = false
	require.NoError(t, cfg.ApplyFlags(fs))

	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, StoragePostgres, cfg.Storage.Mode, "unset flag keeps earlier value")
	assert.False(t, cfg.Storage.Migrate, "flag default does not override")
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", `
# comment
VESTING_TEST_NEW="from-file"
VESTING_TEST_SET=from-file
malformed line
`)
	t.Setenv("VESTING_TEST_SET", "from-env")
	os.Unsetenv("VESTING_TEST_NEW")
	t.Cleanup(func() { os.Unsetenv("VESTING_TEST_NEW") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("VESTING_TEST_NEW"))
	assert.Equal(t, "from-env", os.Getenv("VESTING_TEST_SET"))

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Mode = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Mode = StoragePostgres }},
		{"bad program id", func(c *Config) { c.Vesting.ProgramID = "not-base58!" }},
		{"bad scope", func(c *Config) { c.Vesting.CustodyScope = "global" }},
		{"bad shape", func(c *Config) { c.Vesting.DefaultShape = "MONTHLY" }},
		{"negative retries", func(c *Config) { c.Vesting.MaxConflictRetries = -1 }},
		{"cluster without rpc", func(c *Config) { c.Clock.Source = ClockCluster }},
		{"unknown clock", func(c *Config) { c.Clock.Source = "ntp" }},
		{"zero token age", func(c *Config) { c.Auth.MaxTokenAge = 0 }},
		{"zero feed buffer", func(c *Config) { c.Feed.ClientBuffer = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
