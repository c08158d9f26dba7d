package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// newLogger creates a logger at the given level. An empty or invalid level
// falls back to info.
func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if level == "" {
		level = "info"
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		// Can't use the logger here since it isn't set up yet
		fmt.Fprintf(os.Stderr, "Invalid LOG_LEVEL '%s', defaulting to 'info'\n", level)
		parsed = logrus.InfoLevel
	}

	log.SetLevel(parsed)

	return log
}
