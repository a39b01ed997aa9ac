/*
logger.go - zerolog construction

PURPOSE:
  Builds the process logger once in cmd/server. Packages take a
  zerolog.Logger through their WithLogger options and default to
  zerolog.Nop(), so tests stay silent unless they pass one in.

OUTPUT:
  pretty=false  JSON lines with timestamp and caller (production)
  pretty=true   zerolog.ConsoleWriter (local development)

SEE ALSO:
  - metrics.go: Prometheus collectors
  - config/config.go: --log-level, --log-pretty
*/
package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a logger at the named level writing to w (stderr if nil).
func NewLogger(level string, pretty bool, w io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger(), nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}
