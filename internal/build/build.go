// Package build invokes the container build engine for the two pipeline
// paths: a plain native build and a multi-platform cross build behind a
// QEMU emulation layer.
package build

import (
	"strings"
	"time"
)

// maxDiagnostics bounds how much engine output is surfaced on failure.
// Full output still streams to the driver's mirror writer.
const maxDiagnostics = 4096

// Result is the terminal outcome of one engine invocation
type Result struct {
	// Error is nil when the engine exited zero
	Error error
	// Output is the combined stdout/stderr of the engine
	Output string
	// Duration is the wall-clock time of the invocation
	Duration time.Duration
}

// Succeeded reports whether the engine exited zero
func (r Result) Succeeded() bool {
	return r.Error == nil
}

// Diagnostics returns operator-facing failure text: the tail of the
// engine output, or the error itself when the engine produced none.
// Guaranteed non-empty for a failed result.
func (r Result) Diagnostics() string {
	if r.Error == nil {
		return ""
	}
	out := strings.TrimSpace(r.Output)
	if out == "" {
		return r.Error.Error()
	}
	if len(out) > maxDiagnostics {
		out = out[len(out)-maxDiagnostics:]
		if i := strings.IndexByte(out, '\n'); i >= 0 && i < len(out)-1 {
			out = out[i+1:]
		}
	}
	return out
}
