package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
)

// TestLogger returns a logfmt logger prefixed with the test name. Output is
// discarded unless the test runs with -v or OPGATE_TEST_LOG is set to a
// level ("debug", "warn", ...).
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()

	var out io.Writer = io.Discard
	level := log.DebugLevel
	if env := os.Getenv("OPGATE_TEST_LOG"); env != "" {
		out = os.Stderr
		if l, err := log.ParseLevel(env); err == nil {
			level = l
		}
	} else if testing.Verbose() {
		out = os.Stderr
	}

	return log.NewWithOptions(out, log.Options{
		Level:     level,
		Prefix:    t.Name(),
		Formatter: log.LogfmtFormatter,
	})
}
