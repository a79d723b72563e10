package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stockpipe/internal/config"
	"github.com/rxtech-lab/stockpipe/internal/logger"
	"github.com/rxtech-lab/stockpipe/internal/types"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
)

type ConnectionManagerTestSuite struct {
	suite.Suite
	ctx context.Context
}

func TestConnectionManagerSuite(t *testing.T) {
	suite.Run(t, new(ConnectionManagerTestSuite))
}

func (suite *ConnectionManagerTestSuite) SetupTest() {
	suite.ctx = context.Background()
}

func (suite *ConnectionManagerTestSuite) TestAcquireMemory() {
	manager, err := NewConnectionManager(memoryConfig(), logger.Nop())
	suite.Require().NoError(err)

	session, err := manager.Acquire(suite.ctx)
	suite.Require().NoError(err)
	defer manager.Release()

	suite.Equal("sqlite::memory:", session.Target())
	suite.Equal(config.DriverSQLite, session.Dialect().Name)
	suite.False(session.Released())
	suite.NoError(manager.Ping(suite.ctx))

	again, err := manager.Acquire(suite.ctx)
	suite.Require().NoError(err)
	suite.Same(session, again)
}

func (suite *ConnectionManagerTestSuite) TestAcquireFileCreatesDatabase() {
	cfg := config.StorageConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(suite.T().TempDir(), "stock.db"),
	}

	manager, err := NewConnectionManager(cfg, logger.Nop())
	suite.Require().NoError(err)

	_, err = manager.Acquire(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().NoError(manager.Release())

	_, err = os.Stat(cfg.Path)
	suite.NoError(err)
}

func (suite *ConnectionManagerTestSuite) TestAcquireUnreachable() {
	blocker := filepath.Join(suite.T().TempDir(), "blocker")
	suite.Require().NoError(os.WriteFile(blocker, []byte("not a directory"), 0o600))

	cfg := config.StorageConfig{
		Driver:         config.DriverSQLite,
		Path:           filepath.Join(blocker, "stock.db"),
		ConnectRetries: 2,
	}

	manager, err := NewConnectionManager(cfg, logger.Nop(), WithRetryInterval(time.Millisecond))
	suite.Require().NoError(err)

	session, err := manager.Acquire(suite.ctx)
	suite.Error(err)
	suite.Nil(session)
	suite.Equal(pipeerrors.ErrCodeStorageUnreachable, pipeerrors.GetCode(err))
	suite.Contains(err.Error(), "after 3 attempts")

	suite.NoError(manager.Release())
}

func (suite *ConnectionManagerTestSuite) TestAcquireCancelled() {
	blocker := filepath.Join(suite.T().TempDir(), "blocker")
	suite.Require().NoError(os.WriteFile(blocker, nil, 0o600))

	cfg := config.StorageConfig{
		Driver:         config.DriverSQLite,
		Path:           filepath.Join(blocker, "stock.db"),
		ConnectRetries: 20,
	}

	manager, err := NewConnectionManager(cfg, logger.Nop(), WithRetryInterval(time.Hour))
	suite.Require().NoError(err)

	ctx, cancel := context.WithTimeout(suite.ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = manager.Acquire(ctx)
	suite.Error(err)
	suite.Equal(pipeerrors.ErrCodeStorageUnreachable, pipeerrors.GetCode(err))
	suite.Less(time.Since(start), 10*time.Second)
}

func (suite *ConnectionManagerTestSuite) TestReleaseInvalidatesSession() {
	manager, session, err := openMemory(suite.ctx)
	suite.Require().NoError(err)

	suite.NoError(manager.Release())
	suite.True(session.Released())

	// idempotent
	suite.NoError(manager.Release())

	_, err = session.Exec(suite.ctx, "SELECT 1")
	suite.Equal(pipeerrors.ErrCodeSessionReleased, pipeerrors.GetCode(err))

	_, err = session.Query(suite.ctx, "SELECT 1")
	suite.Equal(pipeerrors.ErrCodeSessionReleased, pipeerrors.GetCode(err))

	err = manager.Ping(suite.ctx)
	suite.Equal(pipeerrors.ErrCodeSessionReleased, pipeerrors.GetCode(err))
}

func (suite *ConnectionManagerTestSuite) TestReleaseWithoutAcquire() {
	manager, err := NewConnectionManager(memoryConfig(), logger.Nop())
	suite.Require().NoError(err)

	suite.NoError(manager.Release())

	err = manager.Ping(suite.ctx)
	suite.Equal(pipeerrors.ErrCodeSessionReleased, pipeerrors.GetCode(err))
}

func (suite *ConnectionManagerTestSuite) TestUnsupportedDriver() {
	_, err := NewConnectionManager(config.StorageConfig{Driver: "oracle"}, logger.Nop())
	suite.Equal(pipeerrors.ErrCodeInvalidDriver, pipeerrors.GetCode(err))
}

func (suite *ConnectionManagerTestSuite) TestWithTxRollsBack() {
	manager, session, err := openMemory(suite.ctx)
	suite.Require().NoError(err)
	defer manager.Release()

	query, args, err := UpsertStatement(session.Dialect(), []types.Record{bar("2024-01-02", "AAPL", "150", 1)})
	suite.Require().NoError(err)

	err = session.WithTx(suite.ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(suite.ctx, query, args...); err != nil {
			return err
		}

		return errors.New("abort")
	})
	suite.EqualError(err, "abort")

	count, err := NewReader(session).Count(suite.ctx)
	suite.NoError(err)
	suite.Equal(0, count)
}
