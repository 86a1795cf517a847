package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kova98/feedgrep.ingest/enums"
)

func setRequired(t *testing.T) {
	t.Helper()
	for key, value := range map[string]string{
		"DB_HOST":              "localhost",
		"DB_PORT":              "5432",
		"DB_NAME":              "reddit",
		"DB_USER":              "postgres",
		"DB_PASSWORD":          "secret",
		"REDDIT_CLIENT_ID":     "client",
		"REDDIT_CLIENT_SECRET": "client-secret",
		"REDDIT_USERNAME":      "bot",
		"REDDIT_PASSWORD":      "hunter2",
		"USER_AGENT":           "feedgrep-ingest/1.0 by bot",
	} {
		t.Setenv(key, value)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"news", "Showerthoughts", "gaming"}, cfg.Subreddits)
	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, 5, cfg.DBConnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.DBConnectDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.ItemDelay)
	assert.Equal(t, 10*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 3, cfg.WorkerRestarts)
	assert.Equal(t, 10*time.Minute, cfg.WorkerHealthyAfter)
	assert.Equal(t, enums.DuplicatePolicyAllow, cfg.DuplicatePolicy)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.AlertingEnabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SUBREDDITS", "golang, r/programming ,GoLang")
	t.Setenv("DB_CONNECT_ATTEMPTS", "2")
	t.Setenv("ITEM_DELAY", "1s")
	t.Setenv("DUPLICATE_POLICY", "SKIP")
	t.Setenv("METRICS_ADDR", "-")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"golang", "programming"}, cfg.Subreddits)
	assert.Equal(t, 2, cfg.DBConnectAttempts)
	assert.Equal(t, time.Second, cfg.ItemDelay)
	assert.Equal(t, enums.DuplicatePolicySkip, cfg.DuplicatePolicy)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfig_ReportsAllMissingKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_HOST", "")
	t.Setenv("REDDIT_PASSWORD", "")
	t.Setenv("PERSIST_TIMEOUT", "soon")

	_, err := LoadConfig()
	require.Error(t, err)

	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "REDDIT_PASSWORD")
	assert.Contains(t, err.Error(), "PERSIST_TIMEOUT")
}

func TestLoadConfig_RejectsUnknownDuplicatePolicy(t *testing.T) {
	setRequired(t)
	t.Setenv("DUPLICATE_POLICY", "merge")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "DUPLICATE_POLICY")
}

func TestAlertingEnabled(t *testing.T) {
	setRequired(t)
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "alerts@example.com")
	t.Setenv("ALERT_EMAIL", "oncall@example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.AlertingEnabled())
}

func TestParseSubreddits_Empty(t *testing.T) {
	assert.Empty(t, ParseSubreddits(" , ,"))
}
