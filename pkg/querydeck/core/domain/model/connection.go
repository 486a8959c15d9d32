package model

import (
	"fmt"
	"time"
)

// ConnectionConfig describes a target database. EncryptedPassword is vault ciphertext.
type ConnectionConfig struct {
	ID                string
	Name              string
	OwnerID           string
	Host              string
	Port              int
	Database          string
	User              string
	EncryptedPassword string
	SSL               bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PoolKey returns the host:port:database:user key used to share pools.
func (c *ConnectionConfig) PoolKey() string {
	return fmt.Sprintf("%s:%d:%s:%s", c.Host, c.Port, c.Database, c.User)
}

// String omits the password.
func (c *ConnectionConfig) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}
