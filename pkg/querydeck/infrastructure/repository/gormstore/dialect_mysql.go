package gormstore

import (
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// init registers the MySQL/MariaDB dialector. The DSN is forced to parse times
// and to accept multi-statement migration files.
func init() {
	RegisterDialector("mysql", func(dsn string) (gorm.Dialector, error) {
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		cfg.ParseTime = true
		cfg.MultiStatements = true
		return mysql.Open(cfg.FormatDSN()), nil
	})
}
