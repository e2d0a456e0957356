package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("IMAGE_PROVIDER", "")
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET", "photos")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_UPLOAD_BYTES", "")
	t.Setenv("CREDITS_PER_PACK", "")
	t.Setenv("REFUND_ON_FAILURE", "")
	t.Setenv("WORKER_COUNT", "")
	t.Setenv("PRESIGN_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, ProviderKIE, cfg.ImageProvider)
	assert.Equal(t, QueueMemory, cfg.QueueBackend)
	assert.Equal(t, int64(3<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 10, cfg.CreditsPerPack)
	assert.True(t, cfg.RefundOnFailure)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 15*time.Minute, cfg.PresignTTL)
}

func TestLoadReportsEveryMissingVariable(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("S3_BUCKET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_BACKEND", "kafka")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_BACKEND")
}

func TestLoadOverlaysEnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CREDITS_PER_PACK=25\nWORKER_COUNT=0\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	t.Setenv("CREDITS_PER_PACK", "3")
	t.Setenv("WORKER_COUNT", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.CreditsPerPack)
	assert.Equal(t, 1, cfg.WorkerCount)
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	const fallback = "https://api.kie.ai"
	tests := map[string]string{
		"":                   fallback,
		"kie.ai":             "https://api.kie.ai",
		"https://kie.ai/":    "https://api.kie.ai",
		"http://localhost:9": "http://localhost:9",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeKIEBaseURL(in, fallback), in)
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
