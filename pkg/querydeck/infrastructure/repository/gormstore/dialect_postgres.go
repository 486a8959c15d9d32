package gormstore

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	RegisterDialector("postgres", func(dsn string) (gorm.Dialector, error) {
		return postgres.Open(dsn), nil
	})
}
