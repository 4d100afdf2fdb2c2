// Package log provides the process-wide console/JSON output switch that
// seeds the root zerolog.Logger handed to appctx.WithLogger, the way reva's
// logging setup picks between a human-readable console writer and raw JSON
// depending on the service's run mode.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Out is the log output writer.
var Out io.Writer = os.Stderr

// Mode selects "dev" (or empty) for console output, anything else for JSON.
var Mode = "dev"

// New builds the component's root logger, switching output format per Mode.
func New(component string) zerolog.Logger {
	out := Out
	if Mode == "" || Mode == "dev" {
		out = zerolog.ConsoleWriter{Out: Out}
	}
	return zerolog.New(out).With().Timestamp().Str("pkg", component).Logger()
}
