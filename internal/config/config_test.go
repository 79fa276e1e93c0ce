package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"orderbroker/internal/config"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "POSTGRES_CONN", "PORT", "SERVER_ADDRESS", "STORAGE", "AI_PROVIDER", "COMMISSION_RATE", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.Storage)
	require.Equal(t, "0.0.0.0:8080", cfg.Port)
	require.InDelta(t, 0.10, cfg.CommissionRate, 1e-9)
	require.Equal(t, 3, cfg.Queue.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.Queue.Interval())
	require.Equal(t, 7*24*time.Hour, cfg.BidTTL())
	require.Equal(t, "fake", cfg.AI.Provider)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: "9090"
storage: postgres
databaseURL: postgres://file/db
commissionRate: 0.15
ai:
  provider: openai
  model: gpt-4o-mini
queue:
  maxAttempts: 5
  batchSize: 4
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("POSTGRES_CONN", "postgres://env/db")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Port)
	require.Equal(t, "postgres://env/db", cfg.DatabaseURL)
	require.InDelta(t, 0.15, cfg.CommissionRate, 1e-9)
	require.Equal(t, 5, cfg.Queue.MaxAttempts)
	require.Equal(t, 4, cfg.Queue.BatchSize)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE", "postgres")
	_, err := config.Load("")
	require.ErrorContains(t, err, "databaseURL")

	t.Setenv("STORAGE", "memory")
	t.Setenv("COMMISSION_RATE", "1.5")
	_, err = config.Load("")
	require.ErrorContains(t, err, "commissionRate")

	t.Setenv("COMMISSION_RATE", "")
	t.Setenv("AI_PROVIDER", "gemini")
	_, err = config.Load("")
	require.ErrorContains(t, err, "ai provider")
}

func TestExplicitZeroIsKept(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
commissionRate: 0
ai:
  provider: keyword
  minConfidence: 0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.0, cfg.CommissionRate)
	require.Equal(t, 0.0, cfg.AI.MinConfidence)
	require.Equal(t, "keyword", cfg.AI.Provider)

	t.Setenv("COMMISSION_RATE", "0")
	cfg, err = config.Load("")
	require.NoError(t, err)
	require.Equal(t, 0.0, cfg.CommissionRate)
	require.InDelta(t, 0.6, cfg.AI.MinConfidence, 1e-9)
}
