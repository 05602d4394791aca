package log

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var atom = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(logger)
}

func Debug(format string, args ...interface{}) {
	zap.S().Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	zap.S().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	zap.S().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	zap.S().Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}

func SetLevel(level Level) {
	switch level {
	case DEBUG:
		atom.SetLevel(zapcore.DebugLevel)
	case WARNING:
		atom.SetLevel(zapcore.WarnLevel)
	case ERROR:
		atom.SetLevel(zapcore.ErrorLevel)
	case FATAL:
		atom.SetLevel(zapcore.FatalLevel)
	default:
		atom.SetLevel(zapcore.InfoLevel)
	}
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = zap.L().Sync()
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// LevelFromString maps a configuration value to a Level. Unknown values
// map to INFO.
func LevelFromString(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warning", "warn":
		return WARNING
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}
