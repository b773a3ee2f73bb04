// Package logging builds the charmbracelet logger that mipstash installs
// as its slog handler. It is configured from MIPSTASH_LOG_* variables.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

const (
	EnvLevel  = "MIPSTASH_LOG_LEVEL"  // debug, info, warn, error
	EnvPrefix = "MIPSTASH_LOG_PREFIX" // default "mipstash "
	EnvToFile = "MIPSTASH_LOG_TO_FILE"
)

// LoggerCloser is a logger that owns its output.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer

	// Path is the log file name, empty when logging to a stream.
	Path string
}

func (lc *LoggerCloser) Close() error {
	if lc.closer == nil {
		return nil
	}
	return lc.closer.Close()
}

// ParseLevel maps a level name to a log level. Unknown names are info.
func ParseLevel(name string) log.Level {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// NewLoggerWithWriter logs to w. Close closes w unless w is stderr.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	prefix, ok := os.LookupEnv(EnvPrefix)
	if !ok || prefix == "" {
		prefix = "mipstash "
	}
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           ParseLevel(os.Getenv(EnvLevel)),
		Prefix:          prefix,
	})

	lc := &LoggerCloser{Logger: lg}
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		lc.closer = c
	}
	return lc
}

// NewLogger logs to stderr, or to mipstash-<timestamp>.log in the working
// directory when MIPSTASH_LOG_TO_FILE is "1". An unwritable log file
// falls back to stderr.
func NewLogger() *LoggerCloser {
	if os.Getenv(EnvToFile) != "1" {
		return NewLoggerWithWriter(os.Stderr)
	}
	name := fmt.Sprintf("mipstash-%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return NewLoggerWithWriter(os.Stderr)
	}
	lc := NewLoggerWithWriter(f)
	lc.Path = name
	return lc
}

func IsDebug() bool {
	return ParseLevel(os.Getenv(EnvLevel)) == log.DebugLevel
}
