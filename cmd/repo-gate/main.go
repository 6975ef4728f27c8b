// Command repo-gate runs the repository's verification gates in order and
// finishes with a smoke run of exitgate over the bundled sample corpus.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// smokeCorpus is relative to the repository root.
const smokeCorpus = "testdata/smoke.txtar"

type gateStep struct {
	label string
	args  []string
}

type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error
}

type realRunner struct{}

type gateOptions struct {
	skipRace bool
	list     bool
	help     bool
	// binDir receives the stand-in compiler for the smoke step.
	binDir string
}

func gateSteps(opts gateOptions) []gateStep {
	fakecc := filepath.Join(opts.binDir, "fakecc")
	steps := []gateStep{
		{label: "go vet", args: []string{"vet", "./..."}},
		{label: "unit tests", args: []string{"test", "./...", "-count=1", "-timeout=10m"}},
	}
	if !opts.skipRace {
		steps = append(steps, gateStep{label: "race tests", args: []string{"test", "./...", "-race", "-count=1", "-timeout=15m"}})
	}
	return append(steps,
		gateStep{label: "conformance", args: []string{"test", "./conformance", "-count=1", "-timeout=10m", "-v"}},
		gateStep{label: "build stand-in compiler", args: []string{"build", "-o", fakecc, "./internal/cmd/fakecc"}},
		gateStep{label: "smoke corpus", args: []string{"run", "./cmd/exitgate", "--archive", smokeCorpus, "--compiler", fakecc, "--strict", "--color", "never"}},
	)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, realRunner{}))
}

//nolint:gocyclo,cyclop // Gate orchestration dispatch is intentionally explicit and linear.
func run(args []string, stdout, stderr io.Writer, runner commandRunner) int {
	opts, err := parseArgs(args)
	if err != nil {
		if werr := writef(stderr, "error: %v\n", err); werr != nil {
			return 1
		}
		if werr := writeUsage(stderr); werr != nil {
			return 1
		}
		return 2
	}
	if opts.help {
		if err := writeUsage(stdout); err != nil {
			return 1
		}
		return 0
	}
	if opts.list {
		for _, step := range gateSteps(opts) {
			if err := writeLine(stdout, step.label); err != nil {
				return 1
			}
		}
		return 0
	}

	binDir, err := os.MkdirTemp("", "exitgate-repo-gate-*")
	if err != nil {
		_ = writef(stderr, "error: create build directory: %v\n", err)
		return 1
	}
	defer func() { _ = os.RemoveAll(binDir) }()
	opts.binDir = binDir

	ctx := context.Background()
	steps := gateSteps(opts)
	for i, step := range steps {
		if err := writef(stdout, "[%d/%d] %s\n", i+1, len(steps), step.label); err != nil {
			return 1
		}
		if err := runner.Run(ctx, "go", step.args, stdout, stderr); err != nil {
			if writeErr := writef(stderr, "gate failed: %s: %v\n", step.label, err); writeErr != nil {
				return 1
			}
			return 1
		}
	}

	if err := writeLine(stdout, "all gates passed"); err != nil {
		return 1
	}
	return 0
}

func parseArgs(args []string) (gateOptions, error) {
	var opts gateOptions
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			opts.help = true
		case "--skip-race":
			opts.skipRace = true
		case "--list":
			opts.list = true
		default:
			return gateOptions{}, fmt.Errorf("unknown argument %q", arg)
		}
	}
	return opts, nil
}

func (realRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error {
	// #nosec G204 -- command and args are fixed repository gate invocations.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func writeUsage(w io.Writer) error {
	if err := writeLine(w, "usage: go run ./cmd/repo-gate [--skip-race] [--list] [--help]"); err != nil {
		return err
	}
	if err := writeLine(w, "runs: vet, tests, race, conformance, smoke corpus"); err != nil {
		return err
	}
	return writeLine(w, "the smoke step runs exitgate --strict over "+smokeCorpus+" with the stand-in compiler")
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
