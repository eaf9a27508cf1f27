// Package log provides category-scoped structured logging for geninst.
// Entries are single lines: timestamp, level, category, message, key=value fields.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config value to a Level. Unknown values yield LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Category groups related log messages.
type Category string

const (
	CatRegistry  Category = "registry"  // instantiation registry mutations
	CatReconcile Category = "reconcile" // reconciliation runs
	CatGenerate  Category = "generate"  // artifact generation and module writes
	CatRelay     Category = "relay"     // pending request hand-off
	CatJanitor   Category = "janitor"   // build failure cleanup
	CatStore     Category = "store"     // persistence backends
	CatHost      Category = "host"      // toolchain invocations
	CatConfig    Category = "config"    // configuration loading
	CatWatch     Category = "watch"     // file watcher events
	CatDispatch  Category = "dispatch"  // dispatch file rendering
)

// Logger writes formatted entries to a writer.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	enabled  bool
	minLevel Level
}

var defaultLogger = &Logger{writer: os.Stderr, enabled: true, minLevel: LevelInfo}

// Init directs the global logger to the file at path, or to stderr when path
// is empty. The returned func closes the file.
func Init(path string, level Level) (func(), error) {
	if path == "" {
		SetOutput(os.Stderr)
		SetMinLevel(level)
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	defaultLogger.mu.Lock()
	defaultLogger.file = f
	defaultLogger.writer = f
	defaultLogger.minLevel = level
	defaultLogger.enabled = true
	defaultLogger.mu.Unlock()

	return func() {
		defaultLogger.mu.Lock()
		defer defaultLogger.mu.Unlock()
		if defaultLogger.file == f {
			_ = f.Close()
			defaultLogger.file = nil
			defaultLogger.writer = os.Stderr
		}
	}, nil
}

// SetOutput replaces the destination writer. Tests use it to capture output.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.writer = w
	defaultLogger.mu.Unlock()
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	defaultLogger.mu.Lock()
	defaultLogger.enabled = enabled
	defaultLogger.mu.Unlock()
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	defaultLogger.mu.Lock()
	defaultLogger.minLevel = level
	defaultLogger.mu.Unlock()
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func log(level Level, cat Category, msg string, fields ...any) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if !defaultLogger.enabled || level < defaultLogger.minLevel || defaultLogger.writer == nil {
		return
	}

	// 2026-01-02T10:45:00 [WARN] [relay] message key=value
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	b.WriteByte('\n')

	_, _ = io.WriteString(defaultLogger.writer, b.String())
}
