// Package logx provides structured logging with an optional debug toggle
// controlled via the DEBUG environment variable.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is a small leveled logger scoped to a component name.
type Logger struct {
	component string
	logger    *log.Logger
}

// Level identifies a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	debugEnabled bool
	debugMu      sync.RWMutex
)

func init() { //nolint:gochecknoinits // mirrors env-var init pattern used across the codebase
	setDebugFromEnv()
}

func setDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()
	v := os.Getenv("DEBUG")
	debugEnabled = v == "1" || strings.EqualFold(v, "true")
}

// SetDebug enables or disables debug-level logging process-wide. Exposed for tests.
func SetDebug(enabled bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
}

// IsDebugEnabled reports whether debug logging is currently enabled.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

// NewLogger creates a logger for the named component, writing to stderr.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, fmt.Sprintf(format, args...))
}

// Debug logs a message only when debug logging is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// WithComponent returns a copy of the logger scoped to a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, logger: l.logger}
}

// Package-level default logger, used by callers that don't hold their own instance.
var defaultLogger = NewLogger("ratemediator") //nolint:gochecknoglobals // default logger, mirrors teacher's package-level convenience functions

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}
