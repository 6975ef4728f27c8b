// Command exitgate runs a compiler conformance corpus and reports which test
// files the compiler classified wrongly.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/lattice-substrate/exitgate/corpus"
	"github.com/lattice-substrate/exitgate/evidence"
	"github.com/lattice-substrate/exitgate/gateerr"
	"github.com/lattice-substrate/exitgate/harness"
	"github.com/lattice-substrate/exitgate/report"
	"github.com/lattice-substrate/exitgate/runner"
	"github.com/lattice-substrate/exitgate/taxonomy"
)

const (
	envCompiler = "EXITGATE_COMPILER"
	envJobs     = "EXITGATE_JOBS"
	envTimeout  = "EXITGATE_TIMEOUT"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv, runner.OSRunner{})
	stop()
	os.Exit(code)
}

type flags struct {
	root           string
	config         string
	preset         string
	suffix         string
	compiler       string
	jobs           string
	timeout        string
	archive        string
	evidence       string
	verifyEvidence string
	color          string
	strict         bool
	diagnostics    bool
	help           bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string, r runner.CommandRunner) int {
	f, err := parseFlags(args)
	if err != nil {
		return fail(stderr, err)
	}
	if f.help {
		if err := writeUsage(stdout); err != nil {
			return fail(stderr, err)
		}
		return 0
	}
	if f.verifyEvidence != "" {
		return cmdVerifyEvidence(f.verifyEvidence, stdout, stderr)
	}

	mode, err := report.ParseColorMode(f.color)
	if err != nil {
		return fail(stderr, gateerr.Wrap(gateerr.CLIUsage, "--color", err))
	}
	root, cleanup, err := resolveRoot(f)
	if err != nil {
		return fail(stderr, err)
	}
	defer cleanup()
	cfg, err := resolveConfig(f, root, getenv)
	if err != nil {
		return fail(stderr, err)
	}

	sum, err := harness.Run(ctx, cfg, r, report.New(stdout, mode), harness.Options{
		OnUnmapped: func(path string) {
			// Best effort: a failing stderr must not abort the run.
			_ = writef(stderr, "warning: skipping %s: directory %q names no category\n",
				path, filepath.Base(filepath.Dir(path)))
		},
	})
	if err != nil {
		return fail(stderr, err)
	}
	if f.evidence != "" {
		b, err := evidence.Build(cfg, sum, evidence.BuildOptions{})
		if err != nil {
			return fail(stderr, err)
		}
		if err := evidence.Write(f.evidence, b); err != nil {
			return fail(stderr, err)
		}
	}
	if !sum.Tally.OK() {
		return 1
	}
	return 0
}

func cmdVerifyEvidence(path string, stdout, stderr io.Writer) int {
	b, err := evidence.Load(path)
	if err != nil {
		return fail(stderr, err)
	}
	if err := evidence.Verify(b); err != nil {
		return fail(stderr, err)
	}
	if err := writeLine(stdout, "ok"); err != nil {
		return fail(stderr, gateerr.Wrap(gateerr.InternalIO, "write result", err))
	}
	return 0
}

// resolveRoot returns the absolute corpus root. For --archive the corpus is
// extracted to a temporary directory that cleanup removes.
func resolveRoot(f flags) (string, func(), error) {
	noop := func() {}
	if f.archive != "" {
		if f.root != "" {
			return "", noop, gateerr.New(gateerr.CLIUsage, "--root and --archive are mutually exclusive")
		}
		dir, err := os.MkdirTemp("", "exitgate-corpus-")
		if err != nil {
			return "", noop, gateerr.Wrap(gateerr.InternalIO, "create corpus directory", err)
		}
		cleanup := func() { _ = os.RemoveAll(dir) }
		root, err := corpus.ExtractArchive(f.archive, dir)
		if err != nil {
			cleanup()
			return "", noop, err
		}
		return root, cleanup, nil
	}
	root := f.root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", noop, gateerr.Wrap(gateerr.CorpusIO, "resolve corpus root", err)
	}
	return abs, noop, nil
}

// resolveConfig applies flag > environment > config file > default.
func resolveConfig(f flags, root string, getenv func(string) string) (harness.Config, error) {
	cfg := harness.Config{
		Root:               root,
		Suffix:             corpus.DefaultSuffix,
		Compiler:           harness.DefaultCompiler(),
		Timeout:            harness.DefaultTimeout,
		CaptureDiagnostics: f.diagnostics,
		Strict:             f.strict,
	}

	fc, err := loadFileConfig(f, root)
	if err != nil {
		return harness.Config{}, err
	}
	if fc != nil {
		if fc.Suffix != "" {
			cfg.Suffix = harness.NormalizeSuffix(fc.Suffix)
		}
		if len(fc.Compiler) != 0 {
			cfg.Compiler = fc.Compiler
		}
		if fc.Jobs != 0 {
			cfg.Jobs = fc.Jobs
		}
		if fc.HasTimeout() {
			// Already validated by LoadConfigFile.
			cfg.Timeout, _ = fc.TimeoutDuration()
		}
		if cfg.Taxonomy, err = fc.Taxonomy(); err != nil {
			return harness.Config{}, err
		}
	}

	compiler, jobs, timeout := getenv(envCompiler), getenv(envJobs), getenv(envTimeout)
	if f.compiler != "" {
		compiler = f.compiler
	}
	if f.jobs != "" {
		jobs = f.jobs
	}
	if f.timeout != "" {
		timeout = f.timeout
	}
	if compiler != "" {
		argv, err := shellquote.Split(compiler)
		if err != nil || len(argv) == 0 {
			return harness.Config{}, gateerr.Newf(gateerr.CLIUsage, "cannot split compiler command %q", compiler)
		}
		cfg.Compiler = argv
	}
	if jobs != "" {
		n, err := strconv.Atoi(jobs)
		if err != nil || n < 0 {
			return harness.Config{}, gateerr.Newf(gateerr.CLIUsage, "jobs must be a non-negative integer, got %q", jobs)
		}
		cfg.Jobs = n
	}
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d < 0 {
			return harness.Config{}, gateerr.Newf(gateerr.CLIUsage, "timeout must be a non-negative duration, got %q", timeout)
		}
		cfg.Timeout = d
	}
	if f.suffix != "" {
		cfg.Suffix = harness.NormalizeSuffix(f.suffix)
	}

	switch {
	case f.preset != "":
		cfg.Taxonomy, err = taxonomy.Preset(f.preset)
	case cfg.Taxonomy == nil:
		cfg.Taxonomy, err = taxonomy.Preset(taxonomy.DefaultPreset)
	}
	if err != nil {
		return harness.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return harness.Config{}, err
	}
	return cfg, nil
}

func loadFileConfig(f flags, root string) (*harness.FileConfig, error) {
	path := f.config
	if path == "" {
		found, ok := harness.FindConfigFile(root)
		if !ok {
			return nil, nil
		}
		path = found
	}
	return harness.LoadConfigFile(path)
}

var valueFlags = map[string]func(*flags, string){
	"--root":            func(f *flags, v string) { f.root = v },
	"--config":          func(f *flags, v string) { f.config = v },
	"--preset":          func(f *flags, v string) { f.preset = v },
	"--suffix":          func(f *flags, v string) { f.suffix = v },
	"--compiler":        func(f *flags, v string) { f.compiler = v },
	"--jobs":            func(f *flags, v string) { f.jobs = v },
	"--timeout":         func(f *flags, v string) { f.timeout = v },
	"--archive":         func(f *flags, v string) { f.archive = v },
	"--evidence":        func(f *flags, v string) { f.evidence = v },
	"--verify-evidence": func(f *flags, v string) { f.verifyEvidence = v },
	"--color":           func(f *flags, v string) { f.color = v },
}

func parseFlags(args []string) (flags, error) {
	f := flags{color: string(report.ColorAuto)}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--help", "-h":
			f.help = true
			continue
		case "--strict":
			f.strict = true
			continue
		case "--diagnostics":
			f.diagnostics = true
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		set, ok := valueFlags[name]
		if !ok {
			if strings.HasPrefix(arg, "-") {
				return flags{}, gateerr.Newf(gateerr.CLIUsage, "unknown option: %s", name)
			}
			return flags{}, gateerr.Newf(gateerr.CLIUsage, "unexpected argument %q", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags{}, gateerr.Newf(gateerr.CLIUsage, "flag %s requires a value", name)
			}
			i++
			value = args[i]
		}
		set(&f, value)
	}
	return f, nil
}

func fail(stderr io.Writer, err error) int {
	// Nothing more can be reported if stderr itself is broken.
	_ = writef(stderr, "error: %v\n", err)
	return gateerr.ClassOf(err).ExitCode()
}

func writeUsage(w io.Writer) error {
	lines := []string{
		"usage: exitgate [options]",
		"  Run every test file under the corpus root through the compiler and compare",
		"  its exit status with the status expected for the file's category directory.",
		"",
		"  --root <dir>             corpus root (default: working directory)",
		"  --archive <file>         run a txtar-packaged corpus instead of --root",
		"  --config <file>          config file (default: <root>/" + harness.ConfigFileName + " if present)",
		"  --preset <name>          category preset: " + strings.Join(taxonomy.PresetNames(), ", "),
		"  --suffix <ext>           test file suffix (default " + corpus.DefaultSuffix + ")",
		"  --compiler <cmd>         compiler command; the test file path is appended ($" + envCompiler + ")",
		"  --jobs <n>               concurrent compiler processes, 0 = one per CPU ($" + envJobs + ")",
		"  --timeout <duration>     per-file compiler time limit ($" + envTimeout + ")",
		"  --strict                 fail when test files sit in directories that name no category",
		"  --diagnostics            show compiler stderr for failing files",
		"  --evidence <file>        write a machine-readable run record",
		"  --verify-evidence <file> check a run record and exit",
		"  --color <auto|always|never>",
		"",
		"exit status: 0 all passed, 1 some failed, 2 usage or config error, 10 harness failure, 130 interrupted",
	}
	for _, l := range lines {
		if err := writeLine(w, l); err != nil {
			return err
		}
	}
	return nil
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
