// Package log provides the logging functionality for oomanalyzer.
package log

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *analyzerLogger
var nopLogger = zap.NewNop().Sugar()

func init() {
	Logger = CreateLoggerWithConfig(DefaultLoggerConfig())
}

func DefaultLoggerConfig() *zap.Config {
	c := zap.NewProductionConfig()
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return &c
}

func CreateLoggerWithLumberjack(logFile string, maxSize int, logLevel zapcore.Level) *analyzerLogger {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxSize, // megabytes
		MaxBackups: 5,
		MaxAge:     3,    // days
		Compress:   true, // compress the rotated files
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		w,
		logLevel,
	)
	return newAnalyzerLogger(zap.New(core).Sugar())
}

// ParseLogLevel parses the level name accepted by the --log-level flag.
// An empty string selects "info".
func ParseLogLevel(logLevel string) (zap.AtomicLevel, error) {
	zapLvl := zap.NewAtomicLevel()
	if logLevel != "" && logLevel != "info" {
		var err error
		zapLvl, err = zap.ParseAtomicLevel(logLevel)
		if err != nil {
			return zap.AtomicLevel{}, err
		}
	}
	return zapLvl, nil
}

// CreateLogger writes to stderr unless a log file is given, in which case
// the file is rotated by lumberjack.
func CreateLogger(logLevel zap.AtomicLevel, logFile string) *analyzerLogger {
	if logFile != "" {
		return CreateLoggerWithLumberjack(logFile, 128, logLevel.Level())
	}

	lCfg := DefaultLoggerConfig()
	lCfg.Level = logLevel
	return CreateLoggerWithConfig(lCfg)
}

func CreateLoggerWithConfig(config *zap.Config) *analyzerLogger {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	l, err := config.Build()
	if err != nil {
		panic(err)
	}

	return newAnalyzerLogger(l.Sugar())
}

// NewFromSugared wraps an existing sugared logger, e.g. one built on
// zaptest/observer in tests.
func NewFromSugared(logger *zap.SugaredLogger) *analyzerLogger {
	return newAnalyzerLogger(logger)
}

type analyzerLogger struct {
	logger atomic.Pointer[zap.SugaredLogger]
}

func newAnalyzerLogger(logger *zap.SugaredLogger) *analyzerLogger {
	l := &analyzerLogger{}
	l.set(logger)
	return l
}

func (l *analyzerLogger) get() *zap.SugaredLogger {
	if l == nil {
		return nopLogger
	}
	logger := l.logger.Load()
	if logger == nil {
		return nopLogger
	}
	return logger
}

func (l *analyzerLogger) set(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = nopLogger
	}
	l.logger.Store(logger)
}

// SetLogger swaps the logger behind the global Logger.
// Callers holding Logger keep working and see the new sink.
func SetLogger(logger *analyzerLogger) {
	if logger == nil {
		Logger.set(nil)
		return
	}
	Logger.set(logger.get())
}

// Errorw downgrades errors caused by a canceled context to warnings,
// e.g. a client disconnecting in the middle of an analyze request.
func (l *analyzerLogger) Errorw(msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if keysAndValues[i] != "error" {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			if strings.Contains(err.Error(), context.Canceled.Error()) {
				l.Warnw(msg, keysAndValues...)
				return
			}
		}
	}

	l.get().Errorw(msg, keysAndValues...) // nolint:staticcheck
}

func (l *analyzerLogger) Debug(args ...interface{}) {
	l.get().Debug(args...)
}

func (l *analyzerLogger) Debugf(template string, args ...interface{}) {
	l.get().Debugf(template, args...)
}

func (l *analyzerLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.get().Debugw(msg, keysAndValues...)
}

func (l *analyzerLogger) Info(args ...interface{}) {
	l.get().Info(args...)
}

func (l *analyzerLogger) Infof(template string, args ...interface{}) {
	l.get().Infof(template, args...)
}

func (l *analyzerLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.get().Infow(msg, keysAndValues...)
}

func (l *analyzerLogger) Warn(args ...interface{}) {
	l.get().Warn(args...)
}

func (l *analyzerLogger) Warnf(template string, args ...interface{}) {
	l.get().Warnf(template, args...)
}

func (l *analyzerLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.get().Warnw(msg, keysAndValues...)
}

func (l *analyzerLogger) Error(args ...interface{}) {
	l.get().Error(args...)
}

func (l *analyzerLogger) Errorf(template string, args ...interface{}) {
	l.get().Errorf(template, args...)
}

func (l *analyzerLogger) Fatal(args ...interface{}) {
	l.get().Fatal(args...)
}

func (l *analyzerLogger) With(args ...interface{}) *zap.SugaredLogger {
	return l.get().With(args...)
}

func (l *analyzerLogger) Desugar() *zap.Logger {
	return l.get().Desugar()
}

func (l *analyzerLogger) Sync() error {
	return l.get().Sync()
}
