package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kova98/feedgrep.ingest/enums"
)

const (
	EnvDevelopment = "DEV"
	EnvProduction  = "PROD"
)

const defaultSubreddits = "news,Showerthoughts,gaming"

type AppConfig struct {
	AppEnv   string // EnvDevelopment or EnvProduction
	LogLevel slog.Level

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBConnectAttempts int
	DBConnectDelay    time.Duration

	RedditClientID     string
	RedditClientSecret string
	RedditUsername     string
	RedditPassword     string
	UserAgent          string
	Subreddits         []string
	ProxyURL           string

	FeedRequestTimeout  time.Duration
	FeedMaxPollInterval time.Duration
	FeedMaxFailures     int

	ItemDelay          time.Duration
	PersistTimeout     time.Duration
	WorkerRestarts     int
	WorkerHealthyAfter time.Duration
	DuplicatePolicy    enums.DuplicatePolicy

	MetricsAddr string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPPassword string
	AlertEmail   string
}

// LoadConfig reads the configuration from the environment. All missing or invalid
// keys are reported together.
func LoadConfig() (AppConfig, error) {
	l := &loader{}
	cfg := AppConfig{}

	cfg.AppEnv = os.Getenv("APP_ENV")

	cfg.DBHost = l.loadRequired("DB_HOST")
	cfg.DBPort = l.loadRequired("DB_PORT")
	cfg.DBName = l.loadRequired("DB_NAME")
	cfg.DBUser = l.loadRequired("DB_USER")
	cfg.DBPassword = l.loadRequired("DB_PASSWORD")
	cfg.DBSSLMode = loadOptional("DB_SSLMODE", "disable")
	cfg.DBConnectAttempts = l.loadInt("DB_CONNECT_ATTEMPTS", 5)
	cfg.DBConnectDelay = l.loadDuration("DB_CONNECT_DELAY", 5*time.Second)

	cfg.RedditClientID = l.loadRequired("REDDIT_CLIENT_ID")
	cfg.RedditClientSecret = l.loadRequired("REDDIT_CLIENT_SECRET")
	cfg.RedditUsername = l.loadRequired("REDDIT_USERNAME")
	cfg.RedditPassword = l.loadRequired("REDDIT_PASSWORD")
	cfg.UserAgent = l.loadRequired("USER_AGENT")
	cfg.Subreddits = ParseSubreddits(loadOptional("SUBREDDITS", defaultSubreddits))
	if len(cfg.Subreddits) == 0 {
		l.fail("SUBREDDITS", errors.New("no subreddit names"))
	}
	cfg.ProxyURL = os.Getenv("PROXY_URL")

	cfg.FeedRequestTimeout = l.loadDuration("FEED_REQUEST_TIMEOUT", 15*time.Second)
	cfg.FeedMaxPollInterval = l.loadDuration("FEED_MAX_POLL_INTERVAL", 16*time.Second)
	cfg.FeedMaxFailures = l.loadInt("FEED_MAX_FAILURES", 5)

	cfg.ItemDelay = l.loadDuration("ITEM_DELAY", 500*time.Millisecond)
	cfg.PersistTimeout = l.loadDuration("PERSIST_TIMEOUT", 10*time.Second)
	cfg.WorkerRestarts = l.loadInt("WORKER_RESTARTS", 3)
	cfg.WorkerHealthyAfter = l.loadDuration("WORKER_HEALTHY_AFTER", 10*time.Minute)

	policy := enums.DuplicatePolicy(strings.ToLower(loadOptional("DUPLICATE_POLICY", string(enums.DuplicatePolicyAllow))))
	if !policy.Valid() {
		l.fail("DUPLICATE_POLICY", fmt.Errorf("unknown policy %q", policy))
	}
	cfg.DuplicatePolicy = policy

	cfg.MetricsAddr = loadOptional("METRICS_ADDR", ":9090")
	if cfg.MetricsAddr == "-" {
		cfg.MetricsAddr = ""
	}

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = loadOptional("SMTP_PORT", "587")
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.AlertEmail = os.Getenv("ALERT_EMAIL")

	lvlString := loadOptional("LOG_LEVEL", "INFO")
	var err error
	cfg.LogLevel, err = parseLogLevel(lvlString)
	if err != nil {
		slog.Error("Invalid LOG_LEVEL", "error", err)
		cfg.LogLevel = slog.LevelInfo
	}

	if len(l.errs) > 0 {
		return AppConfig{}, errors.Join(l.errs...)
	}
	return cfg, nil
}

// ParseSubreddits splits a comma separated list of subreddit names, dropping "r/"
// prefixes, blanks and case-insensitive duplicates.
func ParseSubreddits(s string) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		name = strings.TrimPrefix(strings.TrimPrefix(name, "/"), "r/")
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		names = append(names, name)
	}
	return names
}

func (c AppConfig) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// AlertingEnabled reports whether enough SMTP settings are present to mail alerts.
func (c AppConfig) AlertingEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && c.AlertEmail != ""
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	var err = level.UnmarshalText([]byte(s))
	return level, err
}

type loader struct {
	errs []error
}

func (l *loader) fail(key string, err error) {
	l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
}

func (l *loader) loadRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		l.fail(key, errors.New("required env var not set"))
	}
	return value
}

func (l *loader) loadInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		l.fail(key, fmt.Errorf("invalid non-negative integer %q", value))
		return defaultValue
	}
	return n
}

func (l *loader) loadDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		l.fail(key, fmt.Errorf("invalid duration %q", value))
		return defaultValue
	}
	return d
}

func loadOptional(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
