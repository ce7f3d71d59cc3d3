// Package logging builds the zerolog loggers used across otaup.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// Structured log field names.
const (
	KeyComponent   = "component"
	KeyLabel       = "label"
	KeyPackageHash = "packageHash"
	KeyMode        = "mode"
	KeyDuration    = "duration"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Options configures New.
type Options struct {
	Enabled bool
	Level   string    // trace, debug, info, warn, error; defaults to info
	Format  string    // console or json; defaults to console
	Writer  io.Writer // defaults to colorable stderr
}

// New returns a logger for opts. A disabled logger discards everything, so
// logging never changes what the caller observes beyond diagnostic output.
func New(opts Options) (zerolog.Logger, error) {
	if !opts.Enabled {
		return zerolog.Nop(), nil
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	w := opts.Writer
	switch opts.Format {
	case "", FormatConsole:
		if w == nil {
			w = colorable.NewColorableStderr()
		}
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: opts.Writer != nil}
	case FormatJSON:
		if w == nil {
			w = colorable.NewNonColorable(colorable.NewColorableStderr())
		}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format: %s", opts.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Component returns a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str(KeyComponent, name).Logger()
}
