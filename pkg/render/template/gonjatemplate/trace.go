package gonjatemplate

import (
	"io"
	"sync"

	gonja "github.com/nikolalohinski/gonja/v2"
	gonjalogging "github.com/nikolalohinski/gonja/v2/logging"
	"github.com/sirupsen/logrus"
)

// gonja traces through the standard logrus logger, which is process wide.
// Engines built with debugTrace share it: the first one saves the previous
// output, level and enabled flag, the last one to close puts them back.
var tracing struct {
	mu      sync.Mutex
	users   int
	out     io.Writer
	level   logrus.Level
	enabled bool
}

// startTrace points gonja's logger at w and returns the func that undoes it.
// Calling the returned func more than once is harmless.
func startTrace(w io.Writer) (stop func()) {
	tracing.mu.Lock()
	defer tracing.mu.Unlock()

	if tracing.users == 0 {
		std := logrus.StandardLogger()
		tracing.out = std.Out
		tracing.level = std.GetLevel()
		tracing.enabled = gonjalogging.Enabled()
	}
	tracing.users++
	gonja.SetLoggerOutput(w)
	gonja.SetLoggerLevel(logrus.TraceLevel)

	var once sync.Once
	return func() {
		once.Do(stopTrace)
	}
}

func stopTrace() {
	tracing.mu.Lock()
	defer tracing.mu.Unlock()

	tracing.users--
	if tracing.users > 0 {
		return
	}
	tracing.users = 0
	logrus.SetOutput(tracing.out)
	logrus.SetLevel(tracing.level)
	gonjalogging.SetEnabled(tracing.enabled)
}
