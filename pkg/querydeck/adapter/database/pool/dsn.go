package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// dialNetwork is the custom network name under which the keep-alive dialer is registered.
const dialNetwork = "querydeck-tcp"

const keepAlivePeriod = 30 * time.Second

var registerOnce sync.Once

type driverLogger struct{}

func (driverLogger) Print(v ...interface{}) {
	logger.Warnf("mysql driver: %s", fmt.Sprint(v...))
}

// registerDriverHooks installs the keep-alive dialer and routes driver-level
// connection errors to the logger instead of stderr.
func registerDriverHooks() {
	registerOnce.Do(func() {
		mysql.RegisterDialContext(dialNetwork, func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{KeepAlive: keepAlivePeriod}
			return d.DialContext(ctx, "tcp", addr)
		})
		_ = mysql.SetLogger(driverLogger{})
	})
}

// MySQLConfig builds the driver configuration for creds.
// Sessions run in strict SQL mode with a statement time limit, and DATE/DATETIME
// values are returned as strings.
func MySQLConfig(creds Credentials, opts Options) *mysql.Config {
	opts = opts.Normalize()
	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.Net = dialNetwork
	cfg.Addr = net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port))
	cfg.DBName = creds.Database
	cfg.Timeout = opts.ConnectTimeout
	cfg.ParseTime = false
	cfg.Loc = time.UTC
	cfg.MultiStatements = false
	if creds.SSL {
		cfg.TLSConfig = "true"
	}
	seconds := int(math.Ceil(opts.QueryTimeout.Seconds()))
	cfg.Params = map[string]string{
		"sql_mode":           "'STRICT_ALL_TABLES,NO_ENGINE_SUBSTITUTION'",
		"max_statement_time": strconv.Itoa(seconds),
	}
	return cfg
}

// OpenFunc opens a lazily connecting *sql.DB for creds.
type OpenFunc func(creds Credentials, opts Options) (*sql.DB, error)

// OpenMySQL is the default OpenFunc.
func OpenMySQL(creds Credentials, opts Options) (*sql.DB, error) {
	registerDriverHooks()
	connector, err := mysql.NewConnector(MySQLConfig(creds, opts))
	if err != nil {
		return nil, exception.NewValidationError(moduleName, "invalid connection parameters for %s: %v", creds, err)
	}
	return sql.OpenDB(connector), nil
}

// MySQL server error numbers of interest.
const (
	erDBAccessDenied     = 1044
	erAccessDenied       = 1045
	erTooManyConnections = 1040
	erConCount           = 1203
	erAccessDeniedNoPass = 1698
	erStatementTimeout   = 1969
	erQueryInterrupted   = 1317
)

// classifyConnect maps an error raised while connecting to the error taxonomy.
func classifyConnect(creds Credentials, err error) error {
	if err == nil {
		return nil
	}
	var ae *exception.AppError
	if errors.As(err, &ae) {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erAccessDenied, erDBAccessDenied, erAccessDeniedNoPass:
			return exception.NewCredentialError(moduleName, fmt.Sprintf("access denied for %s", creds), err)
		case erTooManyConnections, erConCount:
			return exception.NewConnectivityError(moduleName, fmt.Sprintf("server refused connection for %s", creds), err)
		}
		return exception.NewConnectivityError(moduleName, fmt.Sprintf("failed to connect to %s", creds), err).WithRetryable(false)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) || exception.IsTemporary(err) {
		return exception.NewConnectivityError(moduleName, fmt.Sprintf("failed to connect to %s", creds), err)
	}
	return exception.NewConnectivityError(moduleName, fmt.Sprintf("failed to connect to %s", creds), err).WithRetryable(false)
}

// classifyQuery maps an error raised by a statement to the error taxonomy.
func classifyQuery(err error) error {
	if err == nil {
		return nil
	}
	var ae *exception.AppError
	if errors.As(err, &ae) {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erStatementTimeout, erQueryInterrupted:
			return exception.NewExecutionError(moduleName, "query exceeded the execution time limit", err)
		case erAccessDenied, erDBAccessDenied:
			return exception.NewCredentialError(moduleName, "access denied", err)
		}
		return exception.NewExecutionError(moduleName, "query failed", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exception.NewExecutionError(moduleName, "query timed out", err)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return exception.NewConnectivityError(moduleName, "connection lost during query", err).WithRetryable(false)
	}
	return exception.NewExecutionError(moduleName, "query failed", err)
}
