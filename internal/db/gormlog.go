package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// gormLogger routes gorm's SQL tracing into zerolog. Unique violations are
// expected during duplicate-key retries and stay at debug level.
type gormLogger struct {
	log   zerolog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(log zerolog.Logger, level logger.LogLevel) gormLogger {
	return gormLogger{log: log, level: level, slow: slowQueryThreshold}
}

func (l gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	l.level = level
	return l
}

func (l gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.Info().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.Warn().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.Error().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		query, rows := fc()
		event := l.log.Error()
		if IsUniqueViolation(err) {
			event = l.log.Debug()
		}
		event.Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", query).Msg("sql statement failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		query, rows := fc()
		l.log.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", query).Msg("slow sql statement")
	case l.level >= logger.Info:
		query, rows := fc()
		l.log.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", query).Msg("sql statement")
	}
}
