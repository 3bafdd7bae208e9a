// Package logging sets up the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var warnOnce sync.Once

// VerboseEnv is the environment variable that enables debug-level logging,
// the eirenewatch equivalent of upstream eirenewatch.ts's ROARR_LOG.
const VerboseEnv = "EIRENEWATCH_VERBOSE"

// New builds the process logger. verbose controls whether debug-level
// records are emitted; when false a one-time notice is written directly
// to stderr, mirroring the CLI's documented behavior for an unset
// verbosity environment variable.
func New(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		warnOnce.Do(func() {
			os.Stderr.WriteString("eirenewatch: " + VerboseEnv + " is not set; debug logging is disabled\n")
		})
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})

	return slog.New(handler)
}
