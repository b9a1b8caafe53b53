// Package logging provides categorized file-based logging for onboard.
// Logs are written to <workspace>/.onboard/logs/ with separate files per
// category. All calls are no-ops until Initialize enables debug mode.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup/shutdown
	CategoryGuide     Category = "guide"     // session controller state machine
	CategoryBrowser   Category = "browser"   // page session, CDP, eval
	CategoryResolve   Category = "resolve"   // element resolution strategies
	CategoryOverlay   Category = "overlay"   // overlay render/clear
	CategoryNavwatch  Category = "navwatch"  // navigation detection
	CategoryProgress  Category = "progress"  // progress trigger, suppression
	CategoryBackend   Category = "backend"   // API client calls
	CategoryControl   Category = "control"   // WebSocket control surface
	CategoryKB        Category = "kb"        // knowledge base load/match
	CategoryJournal   Category = "journal"   // history journal writes
	CategoryDevserver Category = "devserver" // dev backend requests
)

// Options mirrors config.LoggingConfig without importing it, to keep this
// package dependency-free.
type Options struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool
}

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path. A disabled DebugMode makes every call a no-op.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil
	}

	logsDir = filepath.Join(workspace, ".onboard", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== onboard logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsCategoryEnabled returns whether a category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger when logging is disabled or the category filtered out.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix for easy rotation.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	logsDir = ""
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// These are no-ops if the category is disabled.
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Guide logs to the guide category.
func Guide(format string, args ...interface{}) { Get(CategoryGuide).Info(format, args...) }

// GuideDebug logs debug to the guide category.
func GuideDebug(format string, args ...interface{}) { Get(CategoryGuide).Debug(format, args...) }

// GuideWarn logs warning to the guide category.
func GuideWarn(format string, args ...interface{}) { Get(CategoryGuide).Warn(format, args...) }

// GuideError logs error to the guide category.
func GuideError(format string, args ...interface{}) { Get(CategoryGuide).Error(format, args...) }

// Browser logs to the browser category.
func Browser(format string, args ...interface{}) { Get(CategoryBrowser).Info(format, args...) }

// BrowserDebug logs debug to the browser category.
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }

// BrowserError logs error to the browser category.
func BrowserError(format string, args ...interface{}) { Get(CategoryBrowser).Error(format, args...) }

// Resolve logs to the resolve category.
func Resolve(format string, args ...interface{}) { Get(CategoryResolve).Info(format, args...) }

// ResolveDebug logs debug to the resolve category.
func ResolveDebug(format string, args ...interface{}) { Get(CategoryResolve).Debug(format, args...) }

// Overlay logs to the overlay category.
func Overlay(format string, args ...interface{}) { Get(CategoryOverlay).Info(format, args...) }

// OverlayDebug logs debug to the overlay category.
func OverlayDebug(format string, args ...interface{}) { Get(CategoryOverlay).Debug(format, args...) }

// Navwatch logs to the navwatch category.
func Navwatch(format string, args ...interface{}) { Get(CategoryNavwatch).Info(format, args...) }

// NavwatchDebug logs debug to the navwatch category.
func NavwatchDebug(format string, args ...interface{}) { Get(CategoryNavwatch).Debug(format, args...) }

// Progress logs to the progress category.
func Progress(format string, args ...interface{}) { Get(CategoryProgress).Info(format, args...) }

// ProgressDebug logs debug to the progress category.
func ProgressDebug(format string, args ...interface{}) { Get(CategoryProgress).Debug(format, args...) }

// Backend logs to the backend category.
func Backend(format string, args ...interface{}) { Get(CategoryBackend).Info(format, args...) }

// BackendDebug logs debug to the backend category.
func BackendDebug(format string, args ...interface{}) { Get(CategoryBackend).Debug(format, args...) }

// BackendError logs error to the backend category.
func BackendError(format string, args ...interface{}) { Get(CategoryBackend).Error(format, args...) }

// Control logs to the control category.
func Control(format string, args ...interface{}) { Get(CategoryControl).Info(format, args...) }

// ControlDebug logs debug to the control category.
func ControlDebug(format string, args ...interface{}) { Get(CategoryControl).Debug(format, args...) }

// KB logs to the kb category.
func KB(format string, args ...interface{}) { Get(CategoryKB).Info(format, args...) }

// KBDebug logs debug to the kb category.
func KBDebug(format string, args ...interface{}) { Get(CategoryKB).Debug(format, args...) }

// Journal logs to the journal category.
func Journal(format string, args ...interface{}) { Get(CategoryJournal).Info(format, args...) }

// Devserver logs to the devserver category.
func Devserver(format string, args ...interface{}) { Get(CategoryDevserver).Info(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
