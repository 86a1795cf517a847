package data

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kova98/feedgrep.ingest/backoff"
)

// ConnParams identifies the Postgres database.
type ConnParams struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN renders the parameters in lib/pq key/value form.
func (p ConnParams) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	pairs := []string{
		"host=" + quoteDSN(p.Host),
		"port=" + quoteDSN(p.Port),
		"dbname=" + quoteDSN(p.Name),
		"user=" + quoteDSN(p.User),
		"password=" + quoteDSN(p.Password),
		"sslmode=" + quoteDSN(sslMode),
	}
	return strings.Join(pairs, " ")
}

func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ConnectionError is returned once every connection attempt has failed.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to postgres: gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type openFunc func(ctx context.Context, dsn string) (*sqlx.DB, error)

// Connector establishes verified Postgres connections with bounded retry.
type Connector struct {
	logger *slog.Logger
	dsn    string
	policy backoff.Policy
	open   openFunc
}

func NewConnector(logger *slog.Logger, params ConnParams, policy backoff.Policy) *Connector {
	return &Connector{
		logger: logger,
		dsn:    params.DSN(),
		policy: policy,
		open:   openPostgres,
	}
}

// openPostgres opens a handle holding at most one connection and pings it.
// sqlx.ConnectContext closes the handle when the ping fails.
func openPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	return db, nil
}

// Connect returns a usable handle or a *ConnectionError. It never returns a handle
// that failed verification.
func (c *Connector) Connect(ctx context.Context) (*sqlx.DB, error) {
	attempts := 0
	maxAttempts := max(c.policy.Attempts, 1)

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("postgres connection failed, retrying",
			"attempt", attempt, "max_attempts", maxAttempts, "retry_in", wait.String(), "error", err)
	}

	var db *sqlx.DB
	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		c.logger.Debug("connecting to postgres", "attempt", attempts)
		conn, err := c.open(ctx, c.dsn)
		if err != nil {
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		c.logger.Error("could not connect to postgres", "attempts", attempts, "error", err)
		return nil, &ConnectionError{Attempts: attempts, Err: err}
	}

	c.logger.Info("connected to postgres", "attempts", attempts)
	return db, nil
}

// Open connects and wraps the handle in a Session owned by a single caller.
func (c *Connector) Open(ctx context.Context) (*Session, error) {
	db, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{connector: c, db: db}, nil
}

// Session is a dedicated store handle. It is not shared between workers; the mutex
// only guards handle replacement after a reconnect.
type Session struct {
	connector *Connector

	mu     sync.Mutex
	db     *sqlx.DB
	broken bool
	closed bool
}

// DB returns the current handle.
func (s *Session) DB() *sqlx.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Tx runs fn in a single transaction. The transaction is committed when fn returns
// nil and rolled back otherwise. A handle whose connection was lost is replaced by a
// fresh one on the next call.
func (s *Session) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		s.markIfLost(err)
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		s.markIfLost(err)
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Session) handle(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("session closed")
	}
	if !s.broken {
		return s.db, nil
	}

	s.connector.logger.Info("reconnecting lost postgres session")
	db, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	s.db = db
	s.broken = false
	return db, nil
}

func (s *Session) markIfLost(err error) {
	if !IsConnectionLost(err) {
		return
	}
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

// Close releases the handle. Further calls to Tx fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsConnectionLost reports whether err means the underlying connection is unusable.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P01..57P03: server shutting down
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P0")
	}

	var netErr *net.OpError
	return errors.As(err, &netErr)
}
