// Package logging provides es.Logger implementations for configsync processes.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/getpup/pupsourcing/es"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encoding names accepted by New.
const (
	EncodingJSON    = "json"
	EncodingConsole = "console"
)

// Discard drops every log entry.
var Discard es.Logger = discard{}

// Zap implements es.Logger on top of a zap logger. Key/value pairs become
// structured fields.
type Zap struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

var _ es.Logger = (*Zap)(nil)

// New creates a Zap logger writing entries at level and above to the writers,
// os.Stdout when none are given.
func New(level, encoding string, writers ...io.Writer) (*Zap, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderConfig := newEncoderConfig()
	var encoder zapcore.Encoder
	switch strings.ToLower(encoding) {
	case "", EncodingJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case EncodingConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}

	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}
	syncers := make([]zapcore.WriteSyncer, 0, len(writers))
	for _, w := range writers {
		syncers = append(syncers, zapcore.AddSync(w))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), zap.NewAtomicLevelAt(lvl))
	return Wrap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))), nil
}

// Wrap adapts an existing zap logger.
func Wrap(logger *zap.Logger) *Zap {
	return &Zap{logger: logger, sugar: logger.Sugar()}
}

// Debug logs at debug level.
func (z *Zap) Debug(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Debugw(msg, keyvals...)
}

// Info logs at info level.
func (z *Zap) Info(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Infow(msg, keyvals...)
}

// Error logs at error level.
func (z *Zap) Error(_ context.Context, msg string, keyvals ...interface{}) {
	z.sugar.Errorw(msg, keyvals...)
}

// With returns a logger that adds keyvals to every entry.
func (z *Zap) With(keyvals ...interface{}) *Zap {
	sugar := z.sugar.With(keyvals...)
	return &Zap{logger: sugar.Desugar(), sugar: sugar}
}

// Enabled reports whether entries at level are written.
func (z *Zap) Enabled(level zapcore.Level) bool {
	return z.logger.Core().Enabled(level)
}

// Sync flushes buffered entries.
func (z *Zap) Sync() error {
	return z.logger.Sync()
}

// ParseLevel parses debug, info, warn or error. An empty string is info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02T15:04:05.000000Z0700"))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

type discard struct{}

func (discard) Debug(context.Context, string, ...interface{}) {}
func (discard) Info(context.Context, string, ...interface{})  {}
func (discard) Error(context.Context, string, ...interface{}) {}
