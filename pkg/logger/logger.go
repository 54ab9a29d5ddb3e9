package logger

import (
	"log"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// Component identifies the subsystem emitting a log message.
type Component int

const (
	None Component = iota
	Oracle
	Wallet
	Convert
	Webhook
	Store
)

var componentPrefixes = map[Component]string{
	None:    "",
	Oracle:  "[ORACLE]  ",
	Wallet:  "[WALLET]  ",
	Convert: "[CONVERT] ",
	Webhook: "[WEBHOOK] ",
	Store:   "[STORE]   ",
}

var colors = map[Component]color.Attribute{
	None:    color.FgWhite,
	Oracle:  color.FgYellow,
	Wallet:  color.FgMagenta,
	Convert: color.FgHiGreen,
	Webhook: color.FgHiBlue,
	Store:   color.FgCyan,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(component Component, format string, args ...interface{})

	// Error logs an error message.
	Error(component Component, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(component Component, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(component Component, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ Component, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ Component, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ Component, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ Component, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage formats the log message with the appropriate log level, component prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, component Component, format string) string {
	prefix := componentPrefixes[component]
	if l.enableColoring {
		prefix = color.New(colors[component]).Sprint(prefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + prefix + format
}

func (l *StdLogger) Info(component Component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= InfoLevel {
		log.Printf(l.formatMessage(InfoLevel, component, format), args...)
	}
}

func (l *StdLogger) Error(component Component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= ErrorLevel {
		log.Printf(l.formatMessage(ErrorLevel, component, format), args...)
	}
}

func (l *StdLogger) Debug(component Component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= DebugLevel {
		log.Printf(l.formatMessage(DebugLevel, component, format), args...)
	}
}

func (l *StdLogger) Notice(component Component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= NoticeLevel {
		log.Printf(l.formatMessage(NoticeLevel, component, format), args...)
	}
}
