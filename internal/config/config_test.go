package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"closeline/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, config.Limits{MaxGlobalEntries: 64, MaxKeyBytes: 64, MaxEntryBytes: 128}, cfg.Limits)
	require.Equal(t, "/v0", cfg.Server.BasePath)
	require.False(t, cfg.Server.DevAuth)
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("storage:\n  driver: leveldb\nlimits:\n  max_global_entries: 0\n"))
	require.NoError(t, err)
	require.Equal(t, config.DriverLevelDB, cfg.Storage.Driver)
	require.Zero(t, cfg.Limits.MaxGlobalEntries)
	require.Equal(t, 64, cfg.Limits.MaxKeyBytes)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":    "storage:\n  driver: postgres\n",
		"negative":  "limits:\n  max_key_bytes: -1\n",
		"key>entry": "limits:\n  max_key_bytes: 200\n",
		"base path": "server:\n  base_path: v0\n",
		"ttl":       "server:\n  token_ttl: soon\n",
		"level":     "log:\n  level: loud\n",
		"format":    "log:\n  format: xml\n",
		"yaml":      "storage: [",
		"webhook":   "webhooks:\n  - url: ftp://example.com/hook\n",
	}
	for name, in := range cases {
		_, err := config.FromYAML([]byte(in))
		require.Error(t, err, name)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	require.Nil(t, cfg)

	_, err = config.Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(config.GenerateDefault()), 0o644))
	cfg, err = config.LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestTokenLifetime(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "24h0m0s", cfg.TokenLifetime().String())
	cfg.Server.TokenTTL = "15m"
	require.Equal(t, "15m0s", cfg.TokenLifetime().String())
}

func TestWebhooks(t *testing.T) {
	cfg, err := config.FromYAML([]byte("webhooks:\n  - url: http://127.0.0.1:9000/hook\n    app_id: 3\n    events: [AGREEMENT_EXECUTED]\n    enabled: false\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 1)
	hook := cfg.Webhooks[0]
	require.Equal(t, uint64(3), hook.AppID)
	require.Equal(t, []string{"AGREEMENT_EXECUTED"}, hook.Events)
	require.NotNil(t, hook.Enabled)
	require.False(t, *hook.Enabled)
}
