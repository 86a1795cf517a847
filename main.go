package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kova98/feedgrep.ingest/backoff"
	"github.com/kova98/feedgrep.ingest/config"
	"github.com/kova98/feedgrep.ingest/data"
	"github.com/kova98/feedgrep.ingest/data/repos"
	"github.com/kova98/feedgrep.ingest/enums"
	"github.com/kova98/feedgrep.ingest/handlers"
	"github.com/kova98/feedgrep.ingest/ingest"
	"github.com/kova98/feedgrep.ingest/notifiers"
	"github.com/kova98/feedgrep.ingest/sources"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger := newLogger(cfg, os.Stdout).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			slog.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	connector := data.NewConnector(logger, data.ConnParams{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		SSLMode:  cfg.DBSSLMode,
	}, backoff.Constant(cfg.DBConnectAttempts, cfg.DBConnectDelay))

	postsSession, err := connector.Open(ctx)
	if err != nil {
		return startupFailure(ctx, "failed to connect to db", errors.Wrap(err, "posts session"))
	}
	defer closeSession(postsSession, enums.FeedPosts)

	commentsSession, err := connector.Open(ctx)
	if err != nil {
		return startupFailure(ctx, "failed to connect to db", errors.Wrap(err, "comments session"))
	}
	defer closeSession(commentsSession, enums.FeedComments)

	if err := data.EnsureSchema(ctx, postsSession.DB().DB, logger); err != nil {
		return startupFailure(ctx, "failed to ensure schema", err)
	}

	client, err := sources.NewHTTPClient(logger, cfg.ProxyURL)
	if err != nil {
		slog.Error("failed to create http client", "error", err)
		return 1
	}

	reddit, err := sources.Authenticate(ctx, logger, sources.Credentials{
		ClientID:     cfg.RedditClientID,
		ClientSecret: cfg.RedditClientSecret,
		Username:     cfg.RedditUsername,
		Password:     cfg.RedditPassword,
		UserAgent:    cfg.UserAgent,
	}, cfg.Subreddits,
		sources.WithHTTPClient(client),
		sources.WithRequestTimeout(cfg.FeedRequestTimeout),
		sources.WithPollInterval(time.Second, cfg.FeedMaxPollInterval),
		sources.WithMaxFailures(cfg.FeedMaxFailures, time.Second),
	)
	if err != nil {
		return startupFailure(ctx, "failed to authenticate with reddit", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ingest.NewMetrics(registry)

	if cfg.MetricsAddr != "" {
		srv := newServer(cfg.MetricsAddr, registry, handlers.NewHealthHandler(metrics))
		go func() {
			slog.Info("Starting server", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
			}
		}()
		defer shutdownServer(srv)
	}

	var mailer *notifiers.Mailer
	if cfg.AlertingEnabled() {
		mailer = notifiers.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPassword)
	}
	notifier := NewNotifier(mailer, cfg.AlertEmail, cfg.Subreddits)

	workerOpts := ingest.Options{
		Throttle:       cfg.ItemDelay,
		PersistTimeout: cfg.PersistTimeout,
		Metrics:        metrics,
	}
	postRepo := repos.NewPostRepo(postsSession, cfg.DuplicatePolicy)
	commentRepo := repos.NewCommentRepo(commentsSession, cfg.DuplicatePolicy)

	supervisor := ingest.NewSupervisor(logger,
		backoff.Exponential(cfg.WorkerRestarts+1, time.Second, 30*time.Second),
		cfg.WorkerHealthyAfter, metrics, notifier.WorkerFailed)

	err = supervisor.Run(ctx,
		ingest.Task{Name: string(enums.FeedPosts), Run: func(ctx context.Context) error {
			sub, err := sources.SubscribeSubmissions(reddit, cfg.Subreddits)
			if err != nil {
				return err
			}
			defer sub.Close()

			opts := workerOpts
			opts.Logger = workerLogger(logger, enums.FeedPosts)
			return ingest.NewPostWorker(sub, ingest.SinkFunc[data.Post](postRepo.InsertPost), opts).Run(ctx)
		}},
		ingest.Task{Name: string(enums.FeedComments), Run: func(ctx context.Context) error {
			sub, err := sources.SubscribeComments(reddit, cfg.Subreddits)
			if err != nil {
				return err
			}
			defer sub.Close()

			opts := workerOpts
			opts.Logger = workerLogger(logger, enums.FeedComments)
			return ingest.NewCommentWorker(sub, ingest.SinkFunc[data.Comment](commentRepo.InsertComment), opts).Run(ctx)
		}},
	)
	if err != nil {
		slog.Error("ingestion stopped", "error", err)
		return 1
	}

	slog.Info("ingestion stopped cleanly")
	return 0
}

// startupFailure exits cleanly when the failure was caused by a shutdown signal.
func startupFailure(ctx context.Context, msg string, err error) int {
	if ctx.Err() != nil {
		slog.Info("Shutting down during startup", "step", msg)
		return 0
	}
	slog.Error(msg, "error", err)
	return 1
}

// workerLogger tags every line of one worker run with its own session id.
func workerLogger(logger *slog.Logger, feed enums.Feed) *slog.Logger {
	return logger.With("feed", string(feed), "session_id", uuid.NewString())
}

func closeSession(s *data.Session, feed enums.Feed) {
	if err := s.Close(); err != nil {
		slog.Error("failed to close database connection", "feed", feed, "error", err)
	}
}

func newServer(addr string, registry *prometheus.Registry, health *handlers.HealthHandler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", public(health.GetHealth))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("failed to stop server", "error", err)
	}
}

// newLogger writes JSON at the configured level; outside production it also records the
// source location of each line.
func newLogger(cfg config.AppConfig, w io.Writer) *slog.Logger {
	opts := slog.HandlerOptions{Level: cfg.LogLevel, AddSource: !cfg.IsProduction()}
	return slog.New(slog.NewJSONHandler(w, &opts))
}

func public(handler handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts := time.Now()
		res := handler(w, r)
		elapsedMs := time.Since(ts).Milliseconds()
		slog.Debug("req", "method", r.Method, "path", r.URL.Path, "code", res.Code, "elapsed", elapsedMs)
		writeResult(w, res)
	}
}

func writeResult(w http.ResponseWriter, res handlers.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	if res.Body != nil {
		if err := json.NewEncoder(w).Encode(res.Body); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}
