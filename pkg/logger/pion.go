package logger

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// pion is chatty below warn, so its levels sit one step above ours:
// info needs V(1), debug V(2), trace V(3).
const pionInfoVerbosity = 1

// PionFactory routes pion's internal logging into the global zerolog logger.
type PionFactory struct{}

// NewPionFactory returns a logging.LoggerFactory for webrtc.SettingEngine.
func NewPionFactory() logging.LoggerFactory {
	return PionFactory{}
}

// NewLogger implements logging.LoggerFactory.
func (PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (p *pionLogger) emit(verbosity int, level zerolog.Level, msg string) {
	mu.RLock()
	l, v := global, gv
	mu.RUnlock()
	if level < zerolog.WarnLevel && verbosity > v {
		return
	}
	l.WithLevel(level).Str("name", "pion/"+p.scope).Msg(msg)
}

func (p *pionLogger) Trace(msg string) {
	p.emit(pionInfoVerbosity+2, zerolog.TraceLevel, msg)
}

func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.Trace(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Debug(msg string) {
	p.emit(pionInfoVerbosity+1, zerolog.DebugLevel, msg)
}

func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.Debug(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Info(msg string) {
	p.emit(pionInfoVerbosity, zerolog.InfoLevel, msg)
}

func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.Info(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Warn(msg string) {
	p.emit(0, zerolog.WarnLevel, msg)
}

func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.Warn(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Error(msg string) {
	p.emit(0, zerolog.ErrorLevel, msg)
}

func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.Error(fmt.Sprintf(format, args...))
}
