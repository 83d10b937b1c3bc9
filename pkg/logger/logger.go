// Package logger provides component-scoped structured logging for the host.
// All packages obtain their logger here so level and format stay uniform.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is re-exported so callers do not import logrus directly.
type Fields = logrus.Fields

var (
	base *logrus.Logger
	once sync.Once
)

func root() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// New returns a logger entry scoped to a component name.
func New(component string) *logrus.Entry {
	return root().WithField("component", component)
}

// SetLevel changes the global log level. Unknown names fall back to info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	root().SetLevel(lvl)
}

// SetOutput redirects all log output. Used by tests to silence the host.
func SetOutput(w io.Writer) {
	root().SetOutput(w)
}
