package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

// DefaultConnectRetries is how many extra ping attempts Acquire makes.
const DefaultConnectRetries = 5

// Session is the handle a run uses for every storage operation. It is valid from
// Acquire until Release; afterwards every call fails with ErrCodeSessionReleased.
type Session struct {
	dialect Dialect
	target  string

	mu sync.RWMutex
	db *sql.DB
}

// Dialect returns the storage dialect of the session.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Target is a loggable description of the store. It never contains credentials.
func (s *Session) Target() string {
	return s.target
}

// Released reports whether the session has been invalidated.
func (s *Session) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db == nil
}

// Exec runs a statement outside any explicit transaction.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errReleased()
	}

	return s.db.ExecContext(ctx, query, args...)
}

// Query runs a read statement. The caller must close the returned rows.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errReleased()
	}

	return s.db.QueryContext(ctx, query, args...)
}

// WithTx runs fn inside one transaction. The transaction commits when fn returns
// nil and rolls back otherwise. fn must only use tx: the pool holds one connection.
func (s *Session) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return errReleased()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeerrors.Wrap(pipeerrors.ErrCodeTransactionAborted, "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()

			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return pipeerrors.Wrapf(pipeerrors.ErrCodeTransactionAborted, err, "rollback failed: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return pipeerrors.Wrap(pipeerrors.ErrCodeTransactionAborted, "commit transaction", err)
	}

	return nil
}

func (s *Session) ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return errReleased()
	}

	return s.db.PingContext(ctx)
}

func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	return err
}

func errReleased() error {
	return pipeerrors.New(pipeerrors.ErrCodeSessionReleased, "storage session has been released")
}

// ConnectionOption customizes a ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithRetryInterval sets the first backoff interval between connection attempts.
func WithRetryInterval(interval time.Duration) ConnectionOption {
	return func(m *ConnectionManager) {
		m.retryInterval = interval
	}
}

// ConnectionManager owns the lifecycle of the single storage session of a run.
type ConnectionManager struct {
	cfg           config.StorageConfig
	dialect       Dialect
	logger        *logger.Logger
	retryInterval time.Duration

	mu      sync.Mutex
	session *Session
}

// NewConnectionManager creates a manager for the configured store. Nothing is
// opened until Acquire.
func NewConnectionManager(cfg config.StorageConfig, log *logger.Logger, opts ...ConnectionOption) (*ConnectionManager, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = DefaultConnectRetries
	}

	if log == nil {
		log = logger.Nop()
	}

	m := &ConnectionManager{
		cfg:           cfg,
		dialect:       dialect,
		logger:        log,
		retryInterval: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Acquire opens the store and verifies it answers, retrying with exponential
// backoff. Calling Acquire while a session is live returns that session.
func (m *ConnectionManager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.Released() {
		return m.session, nil
	}

	target := m.cfg.DSN()

	db, err := sql.Open(m.dialect.DriverName, m.dialect.DataSource(m.cfg))
	if err != nil {
		return nil, pipeerrors.Wrapf(pipeerrors.ErrCodeStorageUnreachable, err, "open %s", target)
	}

	// one connection keeps a single active write transaction and lets an
	// in-memory sqlite database survive between statements
	db.SetMaxOpenConns(1)

	attempts := 0
	ping := func() error {
		attempts++

		pingCtx, cancel := m.pingContext(ctx)
		defer cancel()

		return db.PingContext(pingCtx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retryInterval
	policy.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		m.logger.Warn("Storage not reachable, retrying",
			zap.String("target", target),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	err = backoff.RetryNotify(ping, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.cfg.ConnectRetries)), ctx), notify)
	if err != nil {
		_ = db.Close()

		return nil, pipeerrors.Wrapf(pipeerrors.ErrCodeStorageUnreachable, err, "connect to %s after %d attempts", target, attempts)
	}

	m.session = &Session{
		dialect: m.dialect,
		target:  target,
		db:      db,
	}

	m.logger.Info("Connected to storage",
		zap.String("driver", m.dialect.Name),
		zap.String("target", target),
		zap.Int("attempts", attempts),
	)

	return m.session, nil
}

// Release closes the session. It is safe to call more than once and without a
// prior Acquire.
func (m *ConnectionManager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Released() {
		return nil
	}

	if err := m.session.close(); err != nil {
		return pipeerrors.Wrap(pipeerrors.ErrCodeStorageUnreachable, "close storage session", err)
	}

	m.logger.Info("Storage session released", zap.String("target", m.session.Target()))

	return nil
}

// Ping checks that the acquired session still answers.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return pipeerrors.New(pipeerrors.ErrCodeSessionReleased, "no storage session acquired")
	}

	pingCtx, cancel := m.pingContext(ctx)
	defer cancel()

	if err := session.ping(pingCtx); err != nil {
		if pipeerrors.HasCode(err, pipeerrors.ErrCodeSessionReleased) {
			return err
		}

		return pipeerrors.Wrap(pipeerrors.ErrCodeStorageUnreachable, "ping storage", err)
	}

	return nil
}

func (m *ConnectionManager) pingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	}

	return context.WithCancel(ctx)
}
