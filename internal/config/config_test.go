package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hlcsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
node_id: aaaa
database: /var/lib/hlcsync/replica.db
group: team
max_drift: 5s
bucket_resolution: 10m
page_size: 100
max_rounds: 8
peer: http://localhost:8080
redis_addr: localhost:6379
`)

	cfg, err := LoadWithEnv(path, noEnv)
	require.NoError(t, err)

	want := Default()
	want.NodeID = "aaaa"
	want.Database = "/var/lib/hlcsync/replica.db"
	want.Group = "team"
	want.MaxDrift = 5 * time.Second
	want.BucketResolution = 10 * time.Minute
	want.PageSize = 100
	want.MaxRounds = 8
	want.Peer = "http://localhost:8080"
	want.RedisAddr = "localhost:6379"
	assert.Equal(t, want, cfg)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := LoadWithEnv(writeConfig(t, ""), noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := LoadWithEnv(writeConfig(t, "node: aaaa\n"), noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field node not found")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), noEnv)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "group: from-file\npage_size: 10\n")

	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		"HLCSYNC_GROUP":     "from-env",
		"HLCSYNC_MAX_DRIFT": "250ms",
		"HLCSYNC_DATABASE":  "env.db",
	}))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Group)
	assert.Equal(t, 250*time.Millisecond, cfg.MaxDrift)
	assert.Equal(t, "env.db", cfg.Database)
	assert.Equal(t, 10, cfg.PageSize)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	path := writeConfig(t, "allowed_origins:\n  - https://from-file.example.com\n")

	cfg, err := LoadWithEnv(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://from-file.example.com"}, cfg.AllowedOrigins)

	cfg, err = LoadWithEnv(path, envMap(map[string]string{
		"HLCSYNC_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_BadEnvValues(t *testing.T) {
	_, err := LoadWithEnv("", envMap(map[string]string{"HLCSYNC_PAGE_SIZE": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HLCSYNC_PAGE_SIZE")

	_, err = LoadWithEnv("", envMap(map[string]string{"HLCSYNC_MAX_DRIFT": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HLCSYNC_MAX_DRIFT")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database", func(c *Config) { c.Database = "" }},
		{"bad group", func(c *Config) { c.Group = "a group" }},
		{"long node id", func(c *Config) { c.NodeID = "0123456789abcdef0" }},
		{"node id punctuation", func(c *Config) { c.NodeID = "node-1" }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"too many rounds", func(c *Config) { c.MaxRounds = 5000 }},
		{"sub-millisecond buckets", func(c *Config) { c.BucketResolution = time.Microsecond }},
		{"negative drift", func(c *Config) { c.MaxDrift = -time.Second }},
		{"peer without scheme", func(c *Config) { c.Peer = "localhost:8080" }},
		{"origin without scheme", func(c *Config) { c.AllowedOrigins = []string{"app.example.com"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}
