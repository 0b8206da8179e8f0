package db

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

type gormLogger struct {
	level logger.LogLevel
}

// NewLogger returns a gorm logger that writes through logrus. Queries are only logged at the
// trace and debug log levels.
func NewLogger(logLevel string) logger.Interface {
	level := logger.Warn
	switch logLevel {
	case "trace", "debug":
		level = logger.Info
	case "error":
		level = logger.Error
	}
	return &gormLogger{level: level}
}

func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	n := *g
	n.level = level
	return &n
}

func (g *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info {
		logrus.WithContext(ctx).Infof(msg, data...)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn {
		logrus.WithContext(ctx).Warnf(msg, data...)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error {
		logrus.WithContext(ctx).Errorf(msg, data...)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	entry := logrus.WithContext(ctx).WithFields(logrus.Fields{
		"sql":      sql,
		"rows":     rows,
		"duration": elapsed,
	})

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !isDuplicate(err) && g.level >= logger.Error:
		entry.WithError(err).Error("query failed")
	case elapsed > slowQueryThreshold && g.level >= logger.Warn:
		entry.Warn("slow query")
	case g.level >= logger.Info:
		entry.Debug("query")
	}
}
