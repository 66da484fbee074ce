// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package procrunner supervises a child OS process, the way worker.Worker
// supervises a child worker: start, monitor output, aggregate errors on
// an abnormal exit. Grounded on
// original_source/src/servicelib/process.py's Process lifecycle.
package procrunner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/diffeo/go-svcfleet/metadata"
)

// DefaultMaxOutput is the default combined stdout+stderr capture
// limit. Run uses it when maxOutput is 0; a negative maxOutput means
// unbounded.
const DefaultMaxOutput = 10 * 1024

// Process is a supervised subprocess's lifecycle hooks.
type Process interface {
	// ProcessStarted is called once the child process has started.
	ProcessStarted()

	// StdoutData is called with each chunk of stdout as it arrives.
	StdoutData(data []byte)

	// StderrData is called with each chunk of stderr as it arrives.
	StderrData(data []byte)

	// Failed is called when the process exits abnormally, before
	// the wrapping error is constructed. rc is the exit code (0 if
	// the process was killed by a signal); sig is the signal number
	// (0 if the process exited normally).
	Failed(rc int, sig int)

	// Cleanup always runs after the process ends, success or not.
	Cleanup()

	// Results produces the handler's return value after a
	// successful (rc == 0, no signal) exit.
	Results() (interface{}, error)
}

// ChildTimers is optionally implemented by a Process to report
// sub-timers (e.g. parsed from the child's own structured output) that
// should be merged into the caller's Metadata.
type ChildTimers interface {
	ChildTimers() map[string]time.Duration
}

// boundedBuffer keeps at most max bytes; 0 means unbounded. It never
// grows past max: the part of a write that does not fit is cut off, and
// every write after the buffer is full is dropped.
type boundedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if b.max > 0 {
		if room := b.max - b.buf.Len(); room < len(p) {
			p = p[:room]
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

// Run starts cmd, streams its stdout/stderr to p (and into a bounded
// buffer for the eventual error message), waits for it to exit, and
// returns p.Results() on success or a wrapping error on failure.
// Elapsed wall-clock time is accrued on parent's "run" timer.
func Run(ctx context.Context, parent *metadata.Metadata, clk clock.Clock, cmd *exec.Cmd, p Process, maxOutput int) (interface{}, error) {
	if clk == nil {
		clk = clock.New()
	}
	if maxOutput == 0 {
		maxOutput = DefaultMaxOutput
	} else if maxOutput < 0 {
		maxOutput = 0
	}

	output := &boundedBuffer{max: maxOutput}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnError(cmd, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnError(cmd, err)
	}

	// A standalone Timer on clk, merged into parent's "run" timer at
	// the end via Accrue: this keeps the caller-supplied clock (not
	// whatever clock parent happens to be bound to) authoritative for
	// how this run's elapsed time is measured.
	runTimer := metadata.NewTimer(clk)
	runTimer.Start()

	if err := cmd.Start(); err != nil {
		runTimer.Stop()
		parent.Timer("run").Accrue(runTimer.Elapsed())
		return nil, spawnError(cmd, err)
	}
	p.ProcessStarted()

	killOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		case <-killOnCancel:
		}
	}()
	defer close(killOnCancel)

	var wg sync.WaitGroup
	wg.Add(2)
	go streamTo(&wg, stdoutPipe, output, p.StdoutData)
	go streamTo(&wg, stderrPipe, output, p.StderrData)
	wg.Wait()

	waitErr := cmd.Wait()
	runTimer.Stop()
	parent.Timer("run").Accrue(runTimer.Elapsed())

	rc, sig := exitStatus(cmd, waitErr)

	p.Cleanup()

	if ct, ok := p.(ChildTimers); ok {
		for name, d := range ct.ChildTimers() {
			parent.Timer(name).Accrue(d)
		}
	}

	if rc != 0 || sig != 0 {
		p.Failed(rc, sig)
		cmdline := fmt.Sprintf("%v", cmd.Args)
		if sig != 0 {
			return nil, fmt.Errorf("'%s' killed by signal %d:\n%s\n%s", cmd.Path, sig, cmdline, output.Bytes())
		}
		return nil, fmt.Errorf("'%s' failed, return code %d:\n%s\n%s", cmd.Path, rc, cmdline, output.Bytes())
	}

	return p.Results()
}

func streamTo(wg *sync.WaitGroup, r io.Reader, sink io.Writer, hook func([]byte)) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			sink.Write(chunk)
			hook(chunk)
		}
		if err != nil {
			return
		}
	}
}

func spawnError(cmd *exec.Cmd, err error) error {
	return fmt.Errorf("Failed to start '%v': %w", cmd.Args, err)
}

func exitStatus(cmd *exec.Cmd, waitErr error) (rc int, sig int) {
	if waitErr == nil {
		return 0, 0
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return -1, 0
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), 0
	}
	if status.Signaled() {
		return 0, int(status.Signal())
	}
	return status.ExitStatus(), 0
}
