package qcore

//
// Logging (SPEC_FULL.md §3 "Ambient Stack")
//

import (
	"fmt"

	"github.com/apex/log"
)

// Logger is the logging interface used throughout qcore. Every method
// takes an epoch/stream-qualified message so a single Logger can serve
// every encryption level and stream without the caller threading a
// *log.Entry around by hand.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// NullLogger is a [Logger] that discards every message. It is the
// default logger used by tests.
type NullLogger struct{}

var _ Logger = &NullLogger{}

func (*NullLogger) Debug(message string)                 {}
func (*NullLogger) Debugf(format string, v ...any)        {}
func (*NullLogger) Info(message string)                   {}
func (*NullLogger) Infof(format string, v ...any)         {}
func (*NullLogger) Warn(message string)                   {}
func (*NullLogger) Warnf(format string, v ...any)         {}

// ApexLogger adapts apex/log's package-level logger to [Logger]. A
// [Config] uses it only when it is set as Logger; a nil Logger means
// [NullLogger].
type ApexLogger struct{}

var _ Logger = &ApexLogger{}

func (*ApexLogger) Debug(message string)          { log.Debug(message) }
func (*ApexLogger) Debugf(format string, v ...any) { log.Debugf(format, v...) }
func (*ApexLogger) Info(message string)            { log.Info(message) }
func (*ApexLogger) Infof(format string, v ...any)  { log.Infof(format, v...) }
func (*ApexLogger) Warn(message string)            { log.Warn(message) }
func (*ApexLogger) Warnf(format string, v ...any)  { log.Warnf(format, v...) }

// epochLogger prefixes every message with an encryption epoch tag, so
// log output from multiple concurrent packet-number spaces can be
// told apart.
type epochLogger struct {
	epoch string
	inner Logger
}

func withEpoch(l Logger, epoch string) Logger {
	return &epochLogger{epoch: epoch, inner: l}
}

func (e *epochLogger) Debug(message string)          { e.inner.Debug(e.tag(message)) }
func (e *epochLogger) Debugf(format string, v ...any) { e.inner.Debug(e.tag(fmt.Sprintf(format, v...))) }
func (e *epochLogger) Info(message string)            { e.inner.Info(e.tag(message)) }
func (e *epochLogger) Infof(format string, v ...any)  { e.inner.Info(e.tag(fmt.Sprintf(format, v...))) }
func (e *epochLogger) Warn(message string)            { e.inner.Warn(e.tag(message)) }
func (e *epochLogger) Warnf(format string, v ...any)  { e.inner.Warn(e.tag(fmt.Sprintf(format, v...))) }

func (e *epochLogger) tag(message string) string {
	return fmt.Sprintf("[%s] %s", e.epoch, message)
}
