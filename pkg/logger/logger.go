// Package logger configures the engine-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

// Config holds the logging settings.
type Config struct {
	Level  string    // debug, info, warn, error
	Output io.Writer // defaults to stderr
}

// Formatter prints "[time] [LEVL] (component) message key=value ...".
type Formatter struct {
	TimestampFormat string
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var sb strings.Builder
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	component, _ := entry.Data["component"].(string)
	fmt.Fprintf(&sb, "[%s] [%s] (%s) %s", entry.Time.Format(f.TimestampFormat), level, component, entry.Message)
	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&Formatter{TimestampFormat: "15:04:05.000"})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// ParseLevel converts a level name into a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init applies cfg to the shared logger. Loggers obtained through For before Init
// pick up the new settings.
func Init(cfg Config) {
	root.SetLevel(ParseLevel(cfg.Level))
	if cfg.Output != nil {
		root.SetOutput(cfg.Output)
	}
}

// For returns a logger tagged with the given component name.
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}
