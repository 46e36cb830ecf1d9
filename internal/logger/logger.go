// Package logger wraps zap with the console and rotating-file outputs used by
// vboxdriver. Packages log through the process-wide logger returned by Get.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string
	// FilePath enables JSON file output when set.
	FilePath string
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// Console enables human-readable output on stderr.
	Console bool
}

// DefaultOptions returns options that log info and above to the console.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 3,
		Console:    true,
	}
}

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

var (
	mu     sync.RWMutex
	global *Logger
)

// ParseLevel converts a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", level)
	}
}

// NewLogger builds a Logger from opts.
func NewLogger(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core

	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if len(cores) == 0 {
		return Nop(), nil
	}

	return &Logger{zap.New(zapcore.NewTee(cores...)).Sugar()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// Init replaces the process-wide logger.
func Init(opts Options) error {
	l, err := NewLogger(opts)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set replaces the process-wide logger with l.
func Set(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// Get returns the process-wide logger, creating a console logger on first use.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := NewLogger(DefaultOptions())
		if err != nil {
			l = Nop()
		}
		global = l
	}
	return global
}

// Sync flushes the process-wide logger.
func Sync() {
	_ = Get().Sync()
}
