package log

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"mipstash/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	closer      *logging.LoggerCloser
)

// Setup installs the charmbracelet logger as the slog default. Debug
// forces debug level and source locations regardless of MIPSTASH_LOG_LEVEL.
func Setup(debug bool) {
	initOnce.Do(func() {
		closer = logging.NewLogger()
		if debug || logging.IsDebug() {
			closer.SetLevel(charmlog.DebugLevel)
			closer.SetReportCaller(true)
		}
		slog.SetDefault(slog.New(closer.Logger))
		initialized.Store(true)
	})
}

// Close flushes and closes the log file, if one was opened.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

// Path returns the log file being written, or "" when logging to stderr.
func Path() string {
	if closer == nil {
		return ""
	}
	return closer.Path
}

func Initialized() bool {
	return initialized.Load()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
