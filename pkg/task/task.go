package task

import (
	"fmt"
	"io"
	"sync/atomic"

	"keelstore/pkg/verify"
)

// Task is one administrative operation with cooperative cancellation.
type Task interface {
	Name() string
	Run() error
	Stop()
}

// Base carries the message plumbing shared by tasks.
type Base struct {
	name    string
	out     io.Writer
	verbose bool
	stop    atomic.Bool
}

func newBase(name string, out io.Writer, verbose bool) Base {
	return Base{name: name, out: out, verbose: verbose}
}

// Name identifies the task.
func (b *Base) Name() string { return b.name }

// Stop requests cooperative cancellation; partial results remain valid.
func (b *Base) Stop() { b.stop.Store(true) }

// Stopped reports whether cancellation was requested.
func (b *Base) Stopped() bool { return b.stop.Load() }

// PostMessage writes a progress message, honoring verbosity.
func (b *Base) PostMessage(level verify.LogLevel, message string) {
	if level == verify.LogVerbose && !b.verbose {
		return
	}
	fmt.Fprintln(b.out, message)
}
