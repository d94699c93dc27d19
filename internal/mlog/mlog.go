// Package mlog is the server/client process logger, adapted from the
// teacher's cmn/nlog: leveled package-level functions over a single
// process-wide writer, with a verbose switch driven by MULTIO_DEBUG (see
// config.Env.Debug) instead of nlog's file-rotation machinery, which this
// module has no use for (sinks, not logs, own the durable output).
package mlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stderr
	std               = log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	verbose atomic.Bool
)

// SetOutput redirects all subsequent log lines; used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	std = log.New(out, "", log.LstdFlags|log.Lmicroseconds)
}

// SetVerbose toggles debug-level logging, driven by MULTIO_DEBUG at startup.
func SetVerbose(v bool) { verbose.Store(v) }

func Verbose() bool { return verbose.Load() }

func Infof(format string, args ...any)    { logf(sevInfo, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, args...) }
func Warningf(format string, args ...any) { logf(sevWarn, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, args...) }
func Errorf(format string, args ...any)   { logf(sevErr, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, args...) }

// Debugf logs only when MULTIO_DEBUG is enabled.
func Debugf(format string, args ...any) {
	if verbose.Load() {
		logf(sevInfo, format, args...)
	}
}

func logf(sev severity, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Print(prefix(sev) + fmt.Sprintf(format, args...))
}

func logln(sev severity, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Print(prefix(sev) + fmt.Sprintln(args...))
}

func prefix(sev severity) string {
	switch sev {
	case sevWarn:
		return "W "
	case sevErr:
		return "E "
	default:
		return "I "
	}
}
