package logging

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts a slog.Logger to the cron.Logger interface.
// cron's Info messages are fairly chatty, so they go out at debug level.
type CronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = CronLogger{}

func NewCronLogger(logger *slog.Logger) CronLogger {
	return CronLogger{logger: logger.With(slog.String("component", "cron"))}
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{KeyError, err}, keysAndValues...)...)
}
