package logger

import (
	"io"
	"os"
	"strings"
)

// LevelEnvVar sets the level when no verbosity flag is given.
const LevelEnvVar = "CHIRON_LOG_LEVEL"

var (
	FlagVerboseCount int  // -V, -VV
	FlagQuiet        bool // --quiet/-q
	FlagSilent       bool // --silent/-s
	FlagJSON         bool // --json-logs, for log shippers
)

// ConfigureLoggerFromFlags applies the persistent CLI flags. Logs go to
// stderr so command output on stdout stays pipeable.
func ConfigureLoggerFromFlags() {
	var out io.Writer = os.Stderr
	level := "info"

	switch {
	case FlagSilent:
		level = "error"
		out = io.Discard
	case FlagQuiet:
		level = "warn"
	case FlagVerboseCount > 0:
		level = "debug"
	default:
		if env := strings.ToLower(strings.TrimSpace(os.Getenv(LevelEnvVar))); env != "" {
			level = env
		}
	}

	Configure(Options{
		Level: level,
		JSON:  FlagJSON,
		Color: !FlagJSON,
		Out:   out,
	})
}
