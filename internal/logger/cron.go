package logger

import "github.com/rs/zerolog"

// CronLogger adapts a zerolog.Logger to the robfig/cron Logger interface.
type CronLogger struct {
	L zerolog.Logger
}

// Info logs routine scheduler messages at debug level.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.L.Debug().Fields(keysAndValues).Msg(msg)
}

// Error logs scheduler failures, including recovered panics.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
