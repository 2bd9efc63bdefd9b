package forge

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/forge/internal/logging"
)

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(logging.Nop())
}

// SetLogger configures the logger new engines and their subsystems use.
// By default forge produces no log output. Pass nil to restore the silent
// default.
//
// Engines capture the logger at construction, so call SetLogger before
// New.
//
// Log levels used by forge:
//   - [slog.LevelDebug]: per-frame diagnostics (pipeline builds, ring usage)
//   - [slog.LevelInfo]: lifecycle events (store opened, surface resized)
//   - [slog.LevelWarn]: recoverable issues (skipped frames, fallback material)
//
// Example:
//
//	forge.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = logging.Nop()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
