package gormstore

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// newGormLogger returns a gorm logger writing into the querydeck logger.
// SQL traces are emitted only when the process runs at DEBUG.
func newGormLogger() gormlogger.Interface {
	level := gormlogger.Warn
	if logger.Level() == logger.LevelDebug {
		level = gormlogger.Info
	}
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// gormWriter implements gormlogger.Writer.
type gormWriter struct{}

func (gormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	switch {
	case strings.Contains(msg, "SLOW SQL"):
		logger.Warnf("[GORM] %s", msg)
	case strings.Contains(msg, "error"), strings.Contains(msg, "Error"):
		logger.Errorf("[GORM] %s", msg)
	default:
		logger.Debugf("[GORM] %s", msg)
	}
}
