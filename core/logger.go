package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Logger provides debug logging for the local API and its transport.
// Debug and Info lines are only written when debug is enabled; Warn and
// Error are always written.
type Logger struct {
	enabled bool
	prefix  string
	out     *log.Logger
}

// NewLogger creates a new logger writing to stderr.
func NewLogger(enabled bool) *Logger {
	return NewLoggerTo(os.Stderr, enabled)
}

// NewLoggerTo creates a logger that writes to w.
func NewLoggerTo(w io.Writer, enabled bool) *Logger {
	return &Logger{
		enabled: enabled,
		prefix:  "quickbase-local",
		out:     log.New(w, "", 0),
	}
}

// WithDebug returns a copy of the logger with debug output forced on.
// Used for per-call debug flags; the receiver is not modified.
func (l *Logger) WithDebug(enabled bool) *Logger {
	if l == nil {
		return NewLogger(enabled)
	}
	if !enabled || l.enabled {
		return l
	}
	cp := *l
	cp.enabled = true
	return &cp
}

func (l *Logger) formatMessage(level, message string) string {
	return fmt.Sprintf("[%s] [%s] [%s] %s",
		time.Now().Format(time.RFC3339),
		l.prefix,
		level,
		message,
	)
}

func (l *Logger) write(level, message string, args []any) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.out.Println(l.formatMessage(level, message))
}

// Debug logs a debug message (only if debug is enabled).
func (l *Logger) Debug(message string, args ...any) {
	if l.Enabled() {
		l.write("DEBUG", message, args)
	}
}

// Info logs an info message (only if debug is enabled).
func (l *Logger) Info(message string, args ...any) {
	if l.Enabled() {
		l.write("INFO", message, args)
	}
}

// Warn logs a warning message (always logged).
func (l *Logger) Warn(message string, args ...any) {
	if l != nil {
		l.write("WARN", message, args)
	}
}

// Error logs an error message (always logged).
func (l *Logger) Error(message string, args ...any) {
	if l != nil {
		l.write("ERROR", message, args)
	}
}

// Request logs an outgoing request with its body.
func (l *Logger) Request(requestID, method, url string, body []byte) {
	if l.Enabled() {
		if len(body) > 0 {
			l.Debug("[%s] %s %s body=%s", requestID, method, url, body)
		} else {
			l.Debug("[%s] %s %s", requestID, method, url)
		}
	}
}

// RateLimit logs rate limit information.
func (l *Logger) RateLimit(info RateLimitInfo) {
	if l.Enabled() {
		rayID := info.QBAPIRay
		if rayID == "" {
			rayID = info.CFRay
		}
		msg := fmt.Sprintf("Rate limited (attempt %d): %s - Status %d, Retry-After: %ds",
			info.Attempt, info.RequestURL, info.HTTPStatus, info.RetryAfter)
		if rayID != "" {
			msg += fmt.Sprintf(", Ray: %s", rayID)
		}
		l.Debug(msg)
	}
}

// Timing logs request timing information.
func (l *Logger) Timing(requestID, method, url string, status int, duration time.Duration) {
	if l.Enabled() {
		l.Debug("[%s] %s %s -> %d in %dms", requestID, method, url, status, duration.Milliseconds())
	}
}

// Retry logs retry attempt information.
func (l *Logger) Retry(attempt, maxAttempts int, delay time.Duration, reason string) {
	if l.Enabled() {
		l.Debug("Retry %d/%d in %dms: %s", attempt, maxAttempts, delay.Milliseconds(), reason)
	}
}

// Enabled returns whether debug logging is enabled.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}
