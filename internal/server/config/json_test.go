package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "flag.json", map[string]any{
		"database_dsn":           "vault.db",
		"app_secret":             "my_secret",
		"chunk_size":             4096,
		"staging_ttl":            "1h",
		"sweep_interval":         60000000000,
		"retry_attempts":         0,
		"s3_bucket":              "bucket",
		"s3_prefix":              "tenants/a",
		"google_client_id":       "gid",
		"google_drive_folder_id": "folder",
		"microsoft_tenant":       "contoso",
		"log_format":             "text",
	})

	t.Run("loads from json", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()

		require.NoError(t, parseJson(cfg, []string{"-config", path}))

		assert.Equal(t, "vault.db", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret", cfg.AppSecret)
		assert.Equal(t, 4096, cfg.ChunkSize)
		assert.Equal(t, time.Hour, cfg.StagingTTL)
		assert.Equal(t, time.Minute, cfg.SweepInterval)
		assert.Equal(t, uint64(0), cfg.RetryAttempts)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "tenants/a", cfg.S3Prefix)
		assert.Equal(t, "gid", cfg.GoogleClientID)
		assert.Equal(t, "folder", cfg.GoogleDriveFolderID)
		assert.Equal(t, "contoso", cfg.MicrosoftTenant)
		assert.Equal(t, "text", cfg.LogFormat)
	})

	t.Run("absent fields keep defaults", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()

		require.NoError(t, parseJson(cfg, []string{"-c", path}))

		assert.Equal(t, "us-east-1", cfg.S3Region)
		assert.Equal(t, 5*time.Minute, cfg.TokenSkew)
		assert.Equal(t, ":9090", cfg.MetricsAddr)
	})

	t.Run("no config flag is a no-op", func(t *testing.T) {
		cfg := &Config{DatabaseDSN: "keep"}
		require.NoError(t, parseJson(cfg, []string{"-d", "other"}))
		assert.Equal(t, "keep", cfg.DatabaseDSN)
	})

	t.Run("invalid json", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

		err := parseJson(&Config{}, []string{"-c", bad})
		require.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		bad := writeTempJSON(t, dir, "dur.json", map[string]any{"staging_ttl": "soon"})

		err := parseJson(&Config{}, []string{"-c", bad})
		require.Error(t, err)
	})
}
