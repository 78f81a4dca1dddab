// Package log provides the structured logger every component accepts at
// construction, wrapping go.uber.org/zap the way the teacher's log package
// wraps its zap fork. There is no package-level logger: callers always
// pass a Logger explicitly, per the design notes' rejection of global
// mutable state.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every component depends on. Production code
// talks to this interface, not to *zap.Logger, so NewNoOp can stand in
// for tests without pulling zap into every test file.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field is a re-export of zap.Field so call sites use zap's constructors
// (log.String, log.Int, log.Err, ...) without importing zap directly.
type Field = zap.Field

var (
	String = zap.String
	Int    = zap.Int
	Int64  = zap.Int64
	Uint64 = zap.Uint64
	Bool   = zap.Bool
	Err    = zap.Error
	Any    = zap.Any
)

type zapLogger struct {
	z *zap.Logger
}

// New builds a production JSON logger at the given level.
func New(level zapcore.Level) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

type noop struct{}

// NewNoOp returns a Logger that discards everything, for tests and for
// callers that have not wired a sink yet.
func NewNoOp() Logger { return noop{} }

func (noop) Debug(string, ...Field)  {}
func (noop) Info(string, ...Field)   {}
func (noop) Warn(string, ...Field)   {}
func (noop) Error(string, ...Field)  {}
func (noop) With(...Field) Logger    { return noop{} }
