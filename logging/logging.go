// Package logging provides structured logging with partition context.
//
// Two variants are available, mirroring the distinction between hot-path
// and operator-facing logging: Logger is a non-sugared zap.Logger for the
// partition processor's apply loop; SugaredLogger wraps it for CLI/debug
// surfaces where printf-style convenience outweighs allocation cost.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/restwork/ids"
)

// Logger logs with a fixed partition identity attached to every entry.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger wraps Logger for printf-style logging.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger tagged with partition and node identity,
// writing JSON lines to os.Stderr.
func NewLogger(partition ids.PartitionID, node ids.NodeID) *Logger {
	return newLoggerWithWriter(partition, node, os.Stderr)
}

// WithOutput returns a new logger writing to w. It swaps out the core that
// holds the bound context fields, so the returned logger does not carry
// them.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func newLoggerWithWriter(partition ids.PartitionID, node ids.NodeID, w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)
	zapLogger := zap.New(core).With(
		zap.Uint64("partition_id", uint64(partition)),
		zap.String("node_id", string(node)),
	)
	return &Logger{zap: zapLogger}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// WithEpoch returns a derived logger tagged additionally with the current
// leader epoch, used once a partition becomes leader.
func (l *Logger) WithEpoch(epoch ids.LeaderEpoch) *Logger {
	return &Logger{zap: l.zap.With(zap.Uint64("leader_epoch", uint64(epoch)))}
}

func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }
func (l *Logger) Info(message string, fields map[string]any)  { l.zap.Info(message, zap.Any("fields", fields)) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.zap.Warn(message, zap.Any("fields", fields)) }
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style logging on CLI surfaces.
func (l *Logger) Sugar() *SugaredLogger { return &SugaredLogger{sugar: l.zap.Sugar()} }

// Raw exposes the underlying *zap.Logger for packages (outbox's AWS SDK
// client, for instance) that take a zap logger directly rather than this
// package's thin wrapper.
func (l *Logger) Raw() *zap.Logger { return l.zap }

func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }
func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
