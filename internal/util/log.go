package util

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type LogLevel int32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

func (l LogLevel) String() string {
	for name, lvl := range levelNames {
		if lvl == l {
			return name
		}
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is a level-aware logger backed by logrus. Component loggers created
// with WithField share the level of their parent.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger creates a level-aware logger writing to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a level-aware logger writing to the provided destination.
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&lineFormatter{})
	base.SetLevel(level.logrus())
	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

func (l *Logger) Level() LogLevel {
	switch l.base.GetLevel() {
	case logrus.TraceLevel:
		return LevelTrace
	case logrus.DebugLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.base.IsLevelEnabled(level.logrus())
}

// WithField returns a child logger that tags every line with key=value.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithField(key, value)}
}

// WithFields returns a child logger that tags every line with the given fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// ParseLogLevel converts a string into a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	if lvl, ok := levelNames[strings.ToLower(s)]; ok {
		return lvl
	}
	return LevelInfo
}

// LookupLogLevel reports whether s names a known level.
func LookupLogLevel(s string) (LogLevel, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	return lvl, ok
}

// lineFormatter renders "2006-01-02 15:04:05 [LEVEL] [component] message key=value".
type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02 15:04:05"))
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(level))
	b.WriteString("]")
	if component, ok := entry.Data["component"]; ok {
		fmt.Fprintf(&b, " [%v]", component)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key == "component" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, entry.Data[key])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
