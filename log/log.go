// Package log provides module-scoped structured logging for the
// Auctioneer, the way klaytn's log package hands every subsystem its own
// named logger instead of a single process-wide one.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModuleName identifies the subsystem a Logger is scoped to. Kept as a
// distinct type (rather than a bare string) so callers can't typo a module
// name into something that silently creates a new, unrelated logger tree.
type ModuleName string

const (
	Driver           ModuleName = "driver"
	AuctionManager   ModuleName = "auctionmanager"
	AuctionWorker    ModuleName = "auctionworker"
	SequencerChannel ModuleName = "sequencerchannel"
	RollupChannel    ModuleName = "rollupchannel"
	NoncePublisher   ModuleName = "noncepublisher"
	Allocation       ModuleName = "allocation"
	Signer           ModuleName = "signer"
)

// Logger wraps a zap.SugaredLogger with the klaytn-style variadic
// key-value call convention: Info("message", "key", value, "key2", value2).
type Logger struct {
	sugar  *zap.SugaredLogger
	module ModuleName
}

// level is shared by every core built from root, so SetLevel applies to
// loggers that already exist as well as to ones created later.
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

var root = newRoot()

func newRoot() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		// Build only fails on a malformed config; the config above is
		// constant, so this can't happen in practice.
		logger = zap.NewNop()
	}
	return logger
}

// SetLevel adjusts the minimum level emitted by every Logger obtained from
// NewModuleLogger, present and future. Intended to be called once from the
// hosting process's CLI flag parsing (e.g. --log-level=debug).
func SetLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// NewModuleLogger returns a Logger tagged with the given module name. Every
// package in this repository that logs declares one package-level instance:
//
//	var logger = log.NewModuleLogger(log.AuctionWorker)
func NewModuleLogger(module ModuleName) *Logger {
	return &Logger{
		sugar:  root.Sugar().With("module", string(module)),
		module: module,
	}
}

// With returns a child Logger with additional, permanently-attached
// key-value pairs, useful for tagging every line emitted for a single
// auction with its id.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...), module: l.module}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Crit logs at fatal level and terminates the process. Reserved for Fatal
// errors per the taxonomy in errs: configuration invalid, signer
// unavailable, a required input stream that will never come back.
func (l *Logger) Crit(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries. The hosting process should defer
// this from main().
func Sync() error {
	return root.Sync()
}
