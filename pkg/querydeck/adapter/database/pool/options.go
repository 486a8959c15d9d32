// Package pool manages connections to target MariaDB/MySQL databases.
//
// A Registry caches one *sql.DB per host:port:database:user, health-checks it on
// every acquisition and rebuilds it when the check fails. Single-use connections
// are created with bounded exponential backoff for transient connect failures.
package pool

import (
	"fmt"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
)

const moduleName = "pool"

const (
	DefaultConnectionLimit = 5
	MaxConnectionLimit     = 20
	DefaultConnectTimeout  = 30 * time.Second
	DefaultAcquireTimeout  = 30 * time.Second
	DefaultQueryTimeout    = 60 * time.Second
)

// Credentials are the decrypted connection parameters. They never leave the pool/vault boundary.
type Credentials struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSL      bool
}

// Key returns the pool cache key.
func (c Credentials) Key() string {
	return fmt.Sprintf("%s:%d:%s:%s", c.Host, c.Port, c.Database, c.User)
}

// String omits the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}

// Options tune a pool. Zero values select defaults.
type Options struct {
	ConnectionLimit int
	ConnectTimeout  time.Duration
	AcquireTimeout  time.Duration
	// QueueLimit caps concurrent waiters for a connection; 0 is unbounded.
	QueueLimit   int
	QueryTimeout time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ConnectionLimit: DefaultConnectionLimit,
		ConnectTimeout:  DefaultConnectTimeout,
		AcquireTimeout:  DefaultAcquireTimeout,
		QueryTimeout:    DefaultQueryTimeout,
	}
}

// OptionsFromConfig converts the pool section of the configuration.
func OptionsFromConfig(cfg config.PoolConfig) Options {
	return Options{
		ConnectionLimit: cfg.ConnectionLimit,
		ConnectTimeout:  cfg.ConnectTimeout(),
		AcquireTimeout:  cfg.AcquireTimeout(),
		QueueLimit:      cfg.QueueLimit,
		QueryTimeout:    cfg.QueryTimeout(),
	}.Normalize()
}

// Normalize fills defaults and clamps the connection limit to 1..MaxConnectionLimit.
func (o Options) Normalize() Options {
	switch {
	case o.ConnectionLimit <= 0:
		o.ConnectionLimit = DefaultConnectionLimit
	case o.ConnectionLimit > MaxConnectionLimit:
		o.ConnectionLimit = MaxConnectionLimit
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.QueueLimit < 0 {
		o.QueueLimit = 0
	}
	return o
}
