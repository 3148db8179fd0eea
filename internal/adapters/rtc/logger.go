package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logging into the global zerolog logger.
type LoggerFactory struct{}

func (LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{scope: scope}
}

type scopedLogger struct {
	scope string
}

func (l scopedLogger) event(lvl zerolog.Level) *zerolog.Event {
	return log.WithLevel(lvl).Str("module", "webrtc").Str("scope", l.scope)
}

func (l scopedLogger) Trace(msg string) { l.event(zerolog.TraceLevel).Msg(msg) }
func (l scopedLogger) Tracef(format string, args ...any) {
	l.event(zerolog.TraceLevel).Msg(fmt.Sprintf(format, args...))
}
func (l scopedLogger) Debug(msg string) { l.event(zerolog.DebugLevel).Msg(msg) }
func (l scopedLogger) Debugf(format string, args ...any) {
	l.event(zerolog.DebugLevel).Msg(fmt.Sprintf(format, args...))
}
func (l scopedLogger) Info(msg string) { l.event(zerolog.InfoLevel).Msg(msg) }
func (l scopedLogger) Infof(format string, args ...any) {
	l.event(zerolog.InfoLevel).Msg(fmt.Sprintf(format, args...))
}
func (l scopedLogger) Warn(msg string) { l.event(zerolog.WarnLevel).Msg(msg) }
func (l scopedLogger) Warnf(format string, args ...any) {
	l.event(zerolog.WarnLevel).Msg(fmt.Sprintf(format, args...))
}
func (l scopedLogger) Error(msg string) { l.event(zerolog.ErrorLevel).Msg(msg) }
func (l scopedLogger) Errorf(format string, args ...any) {
	l.event(zerolog.ErrorLevel).Msg(fmt.Sprintf(format, args...))
}
