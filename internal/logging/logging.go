// Package logging builds the slog loggers used across the bot.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NameKey is the attribute naming the component that emitted a record.
const NameKey = "logger"

// New returns a tint-rendered logger writing to w at the given level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewHandler(w, level))
}

func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		},
	)
}

// Named tags log with the component name.
func Named(log *slog.Logger, name string) *slog.Logger {
	return log.With(NameKey, name)
}

// Discard is a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gormLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

// NewGORMLogger adapts slog to gorm's logger.Interface. Queries slower than
// slowThreshold are logged at WARN, everything else at DEBUG.
func NewGORMLogger(handler slog.Handler, slowThreshold time.Duration) logger.Interface {
	return gormLogger{
		logger:        slog.New(handler).With(NameKey, "gorm"),
		SlowThreshold: slowThreshold,
	}
}

func (g gormLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g gormLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rows := fc()

	// not-found is an expected outcome for First(), callers handle it
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		g.logger.ErrorContext(
			ctx,
			"sql failed",
			"elapsed", elapsed,
			"rows", rows,
			"sql", s,
			tint.Err(err),
		)
		return
	}

	if g.SlowThreshold != 0 && elapsed > g.SlowThreshold {
		g.logger.WarnContext(
			ctx,
			"slow sql",
			"elapsed", elapsed,
			"threshold", g.SlowThreshold,
			"rows", rows,
			"sql", s,
		)
		return
	}

	g.logger.DebugContext(
		ctx,
		"sql completed",
		"elapsed", elapsed,
		"rows", rows,
		"sql", s,
	)
}
