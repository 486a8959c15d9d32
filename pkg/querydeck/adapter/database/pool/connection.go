package pool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// Connection is a single-use, non-pooled connection.
type Connection struct {
	db        *sql.DB
	conn      *sql.Conn
	opts      Options
	closeOnce sync.Once
}

// Conn exposes the underlying connection.
func (c *Connection) Conn() *sql.Conn { return c.conn }

// CreateConnection opens a single-use connection, retrying transient connect failures
// according to the registry's retry policy. Credential errors are returned immediately.
func (r *Registry) CreateConnection(ctx context.Context, creds Credentials, opts Options) (*Connection, error) {
	opts = r.resolve(opts)
	attempts := r.retry.MaxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := r.connectOnce(ctx, creds, opts)
		if err == nil {
			if attempt > 1 {
				logger.Infof("pool: connected to %s after %d attempts", creds, attempt)
			}
			return c, nil
		}
		lastErr = err
		if attempt == attempts || !r.retry.ShouldRetry(err) {
			break
		}
		delay := r.retry.Backoff(attempt)
		logger.Warnf("pool: connect attempt %d/%d to %s failed, retrying in %s: %v", attempt, attempts, creds, delay, err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return nil, exception.NewConnectivityError(moduleName, "connect cancelled", serr).WithRetryable(false)
		}
	}
	return nil, lastErr
}

func (r *Registry) connectOnce(ctx context.Context, creds Credentials, opts Options) (*Connection, error) {
	db, err := r.open(creds, opts)
	if err != nil {
		return nil, classifyConnect(creds, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	cctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	conn, err := db.Conn(cctx)
	if err == nil {
		err = conn.PingContext(cctx)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Debugf("pool: close after failed connect to %s: %v", creds, cerr)
		}
		return nil, classifyConnect(creds, err)
	}
	return &Connection{db: db, conn: conn, opts: opts}, nil
}

// CloseConnection ends c. It is idempotent and logs close errors instead of returning them.
func CloseConnection(c *Connection) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && err != sql.ErrConnDone {
			logger.Warnf("pool: error closing connection: %v", err)
		}
		if err := c.db.Close(); err != nil {
			logger.Warnf("pool: error closing connection handle: %v", err)
		}
	})
}

// ServerInfo is the result of TestConnection.
type ServerInfo struct {
	Version string
	Latency time.Duration
}

// TestConnection opens a single-use connection, reads the server version and closes it.
func (r *Registry) TestConnection(ctx context.Context, creds Credentials) (*ServerInfo, error) {
	start := time.Now()
	c, err := r.CreateConnection(ctx, creds, Options{})
	if err != nil {
		return nil, err
	}
	defer CloseConnection(c)

	qctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()
	var version string
	if err := c.conn.QueryRowContext(qctx, "SELECT VERSION()").Scan(&version); err != nil {
		return nil, classifyQuery(err)
	}
	return &ServerInfo{Version: version, Latency: time.Since(start)}, nil
}
