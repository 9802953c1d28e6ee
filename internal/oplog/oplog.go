// Package oplog is the operational logger for flatkv's surrounding
// tooling: the store's Open/Close notices and the interactive shell.
// It deliberately stays off the hot path (Fetch/Store/Delete/Next)
// just as the teacher's core does no per-operation logging of its own.
package oplog

import "go.uber.org/zap"

// New builds a production-configured, sugared zap logger. Callers
// should defer Sync() on the returned logger.
func New() (*zap.SugaredLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, for callers (tests,
// library embedders) that don't want operational logging at all.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
