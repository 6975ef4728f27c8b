// Package runner invokes the compiler under test for one test case.
//
// The compiler is an opaque subprocess: it receives the absolute path of a
// test file as its only argument, and its termination status is the whole
// contract. Its output streams are discarded unless diagnostics capture is
// requested.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/lattice-substrate/exitgate/gateerr"
)

// MaxDiagnostics bounds the captured stderr of one invocation.
const MaxDiagnostics = 64 << 10

// waitDelay bounds how long Wait blocks on I/O after the process is gone.
const waitDelay = 2 * time.Second

// Termination describes how a compiler process ended.
type Termination string

const (
	Exited   Termination = "exited"
	Signaled Termination = "signaled"
	TimedOut Termination = "timed_out"
)

// Invocation is one compiler run.
type Invocation struct {
	// Argv is the compiler command prefix; Path is appended as the only argument.
	Argv               []string
	Path               string
	Timeout            time.Duration
	CaptureDiagnostics bool
}

// Result is the observed termination of one invocation.
type Result struct {
	// Status is the exit status for Exited, the negated signal number for
	// Signaled, and -1 for TimedOut.
	Status      int
	Termination Termination
	Signal      string
	Duration    time.Duration
	Diagnostics []byte
}

// Detail renders an abnormal termination for reports.
func (r Result) Detail(timeout time.Duration) string {
	switch r.Termination {
	case Signaled:
		return "killed by signal " + r.Signal
	case TimedOut:
		return fmt.Sprintf("timed out after %s", timeout)
	default:
		return fmt.Sprintf("exit status %d", r.Status)
	}
}

// CommandRunner abstracts compiler execution.
type CommandRunner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// OSRunner executes the compiler on the host.
type OSRunner struct{}

// Run starts the compiler, waits for it, and maps its termination. Only
// harness failures are returned as errors: the compiler cannot be started
// (LaunchFailed) or ctx was cancelled (Interrupted). Crashes and timeouts are
// ordinary results.
func (OSRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Argv) == 0 {
		return Result{}, gateerr.New(gateerr.InvalidConfig, "compiler command is empty")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, gateerr.Wrap(gateerr.Interrupted, "run cancelled", err)
	}

	caseCtx, cancel := ctx, context.CancelFunc(func() {})
	if inv.Timeout > 0 {
		caseCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	argv := make([]string, 0, len(inv.Argv)+1)
	argv = append(argv, inv.Argv...)
	argv = append(argv, inv.Path)
	// #nosec G204 -- argv is the operator-configured compiler command.
	cmd := exec.CommandContext(caseCtx, argv[0], argv[1:]...)
	var diag *boundedBuffer
	if inv.CaptureDiagnostics {
		diag = newBoundedBuffer(MaxDiagnostics)
		cmd.Stderr = diag
	}
	isolate(cmd)
	var killed atomic.Bool
	kill := cmd.Cancel
	cmd.Cancel = func() error {
		err := kill()
		if err == nil {
			killed.Store(true)
		}
		return err
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, gateerr.Wrap(gateerr.LaunchFailed, fmt.Sprintf("start compiler %q", argv[0]), err)
	}
	waitErr := cmd.Wait()

	res := Result{Duration: time.Since(start)}
	if diag != nil {
		res.Diagnostics = diag.Bytes()
	}
	if err := ctx.Err(); err != nil {
		return res, gateerr.Wrap(gateerr.Interrupted, "run cancelled", err)
	}
	if cmd.ProcessState == nil {
		return res, gateerr.Wrap(gateerr.InternalError, "compiler exited without process state", waitErr)
	}
	if deadlineKilled(caseCtx.Err(), killed.Load(), cmd.ProcessState.Exited()) {
		res.Status = -1
		res.Termination = TimedOut
		return res, nil
	}
	if sig, ok := signalOf(cmd.ProcessState); ok {
		res.Status = -int(sig)
		res.Termination = Signaled
		res.Signal = signalName(sig)
		return res, nil
	}
	res.Status = cmd.ProcessState.ExitCode()
	res.Termination = Exited
	return res, nil
}

// deadlineKilled reports whether a case ended because its own deadline killed
// it. Some platforms report a killed process as exited with a status, so a
// successful kill decides. A process that was already gone when the deadline
// fired keeps its status.
func deadlineKilled(caseErr error, killed, exited bool) bool {
	if !errors.Is(caseErr, context.DeadlineExceeded) {
		return false
	}
	return killed || !exited
}
