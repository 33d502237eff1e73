package client

import "github.com/sirupsen/logrus"

// Logger is the minimal logging surface the dispatcher, registration FSM
// and observation table use to report diagnostics. It mirrors the
// teacher's `Logger` interface (its coap_http.go) so both sides of the
// module share one logging vocabulary.
type Logger interface {
	Printf(format string, v ...interface{})
}

// LogrusLogger adapts a *logrus.Logger (or the package-level logger) to
// Logger, the way the teacher's cmd/proxy wraps logrus for its own Logger
// interface.
type LogrusLogger struct {
	*logrus.Logger
}

func (l LogrusLogger) Printf(format string, v ...interface{}) {
	l.Logger.Infof(format, v...)
}

// NewLogger returns a Logger backed by logrus's standard logger.
func NewLogger() Logger {
	return LogrusLogger{Logger: logrus.StandardLogger()}
}
