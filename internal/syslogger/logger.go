// Package syslogger is the fatal-fail sink the store calls on
// unrecoverable format violations and I/O errors: it logs to syslog
// and terminates the process. It is a thin translation layer, not a
// general-purpose logging facility — the one the spec names as an
// out-of-scope external collaborator, implemented here to satisfy the
// core's contract with it.
package syslogger

import (
	"fmt"
	"log"
	"log/syslog"
	"os"
)

// Logger wraps the one syslog priority flatkv's fatal path actually
// logs at. The teacher's equivalent carries a logger per syslog
// priority (LOG_ERR, LOG_WARNING, LOG_INFO...); flatkv has no
// diagnostics path that logs below LOG_CRIT, so only that level is
// kept here.
type Logger struct {
	Crit *log.Logger
}

func newSyslogLogger(priority syslog.Priority, flags int) *log.Logger {
	logger, err := syslog.NewLogger(priority, flags)
	if err != nil {
		// No syslog available (e.g. sandboxed test environment): fall
		// back to stderr rather than failing to construct a logger at
		// all.
		return log.New(os.Stderr, "", flags)
	}
	return logger
}

// New builds a Logger at LOG_CRIT.
func New(flags int) *Logger {
	return &Logger{Crit: newSyslogLogger(syslog.LOG_CRIT, flags)}
}

// Sink adapts Logger to kverrors.FatalSink: log at LOG_CRIT then
// terminate the process. ExitFunc defaults to os.Exit and exists so
// tests can observe a fatal call without killing the test binary.
type Sink struct {
	Logger   *Logger
	ExitFunc func(code int)
}

// NewSink builds a Sink with a fresh Logger and os.Exit as ExitFunc.
func NewSink() *Sink {
	return &Sink{Logger: New(log.Lshortfile), ExitFunc: os.Exit}
}

func (s *Sink) Fatal(op string, err error) {
	s.Logger.Crit.Output(2, fmt.Sprintf("%s: %v", op, err))
	exit := s.ExitFunc
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}
