package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lattice-substrate/exitgate/gateerr"
	"github.com/lattice-substrate/exitgate/internal/fakecc"
	"github.com/lattice-substrate/exitgate/runner"
)

const helperEnv = "EXITGATE_RUNNER_HELPER"

// TestMain doubles as the compiler under test: with helperEnv set, the test
// binary behaves as fakecc for its single path argument.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(fakecc.Main(os.Args[len(os.Args)-1:], os.Stderr))
	}
	if err := os.Setenv(helperEnv, "1"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func compiler() []string {
	return []string{os.Args[0]}
}

func source(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "case.notc")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestRunExitStatus(t *testing.T) {
	for _, want := range []int{0, 1, 2, 3, 5} {
		path := source(t, "// exit: "+strconv.Itoa(want)+"\n")
		res, err := runner.OSRunner{}.Run(context.Background(), runner.Invocation{Argv: compiler(), Path: path})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if res.Termination != runner.Exited || res.Status != want {
			t.Fatalf("expected exited/%d, got %s/%d", want, res.Termination, res.Status)
		}
		if res.Diagnostics != nil {
			t.Fatalf("diagnostics captured without request: %q", res.Diagnostics)
		}
	}
}

func TestRunCapturesDiagnostics(t *testing.T) {
	path := source(t, "// stderr: Semantic error\n// stderr: x is not declared\n// exit: 2\n")
	res, err := runner.OSRunner{}.Run(context.Background(), runner.Invocation{
		Argv:               compiler(),
		Path:               path,
		CaptureDiagnostics: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != 2 {
		t.Fatalf("expected status 2, got %d", res.Status)
	}
	if got := string(res.Diagnostics); got != "Semantic error\nx is not declared\n" {
		t.Fatalf("unexpected diagnostics %q", got)
	}
}

func TestRunSignalIsAResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signals are unix-only")
	}
	path := source(t, "// signal: KILL\n")
	res, err := runner.OSRunner{}.Run(context.Background(), runner.Invocation{Argv: compiler(), Path: path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Termination != runner.Signaled {
		t.Fatalf("expected signaled, got %s/%d", res.Termination, res.Status)
	}
	if res.Status != -9 || res.Signal != "SIGKILL" {
		t.Fatalf("unexpected signal result: %d %q", res.Status, res.Signal)
	}
	if got := res.Detail(0); got != "killed by signal SIGKILL" {
		t.Fatalf("unexpected detail %q", got)
	}
}

func TestRunTimeout(t *testing.T) {
	path := source(t, "// sleep: 30s\n")
	start := time.Now()
	res, err := runner.OSRunner{}.Run(context.Background(), runner.Invocation{
		Argv:    compiler(),
		Path:    path,
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Termination != runner.TimedOut || res.Status != -1 {
		t.Fatalf("expected timeout, got %s/%d", res.Termination, res.Status)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout did not stop the compiler promptly: %s", elapsed)
	}
	if got := res.Detail(200 * time.Millisecond); got != "timed out after 200ms" {
		t.Fatalf("unexpected detail %q", got)
	}
}

func TestRunInterrupted(t *testing.T) {
	path := source(t, "// sleep: 30s\n")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_, err := runner.OSRunner{}.Run(ctx, runner.Invocation{Argv: compiler(), Path: path})
	if gateerr.ClassOf(err) != gateerr.Interrupted {
		t.Fatalf("expected INTERRUPTED, got %v", err)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.OSRunner{}.Run(ctx, runner.Invocation{Argv: compiler(), Path: "x.notc"})
	if gateerr.ClassOf(err) != gateerr.Interrupted {
		t.Fatalf("expected INTERRUPTED, got %v", err)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-compiler")
	_, err := runner.OSRunner{}.Run(context.Background(), runner.Invocation{Argv: []string{missing}, Path: "x.notc"})
	if gateerr.ClassOf(err) != gateerr.LaunchFailed {
		t.Fatalf("expected LAUNCH_FAILED, got %v", err)
	}
	if !strings.Contains(err.Error(), "no-such-compiler") {
		t.Fatalf("error does not name the compiler: %v", err)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	_, err := runner.OSRunner{}.Run(context.Background(), runner.Invocation{Path: "x.notc"})
	if gateerr.ClassOf(err) != gateerr.InvalidConfig {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}
