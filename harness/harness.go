// Package harness runs a conformance corpus against a compiler under test.
//
// Discovery feeds a bounded pool of compiler invocations; every result flows
// into a single reducer that owns the Tally and is the only caller of the
// Sink. Failures reach the Sink in discovery order whatever the pool size,
// so reports are reproducible.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lattice-substrate/exitgate/corpus"
	"github.com/lattice-substrate/exitgate/gateerr"
	"github.com/lattice-substrate/exitgate/runner"
	"github.com/lattice-substrate/exitgate/taxonomy"
)

// Phase is a step of one harness run.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseRunning     Phase = "running"
	PhaseReporting   Phase = "reporting"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
)

// Tally counts cases run and passed. Passed never exceeds Run.
type Tally struct {
	Run    int
	Passed int
}

// Failed returns the number of failing cases.
func (t Tally) Failed() int {
	return t.Run - t.Passed
}

// OK reports whether every case passed.
func (t Tally) OK() bool {
	return t.Passed == t.Run
}

func (t *Tally) record(passed bool) {
	t.Run++
	if passed {
		t.Passed++
	}
}

// CaseResult is one classified compiler run.
type CaseResult struct {
	Case    corpus.Case
	Result  runner.Result
	Outcome taxonomy.Outcome
	Passed  bool
}

// Failure is the report record of one failing case.
type Failure struct {
	Case        corpus.Case
	Outcome     taxonomy.Outcome
	Description string
	// Source is the full text of the test file.
	Source      []byte
	Diagnostics []byte
}

// Sink receives failures in discovery order, then the final tally.
type Sink interface {
	Failure(f Failure) error
	Summary(t Tally) error
}

// Options carries optional observers of a run.
type Options struct {
	// OnPhase is called on every phase transition.
	OnPhase func(Phase)
	// OnUnmapped is called for suffixed files in unmapped directories.
	OnUnmapped func(path string)
}

// Summary is the outcome of a run.
type Summary struct {
	Tally Tally
	Phase Phase
	// Results holds every case result in discovery order.
	Results []CaseResult
	// Unmapped lists suffixed files that belong to no category, sorted.
	Unmapped []string
}

// Run executes every discovered case once and reports through sink. A
// returned error aborts the run; the summary then has Phase == PhaseAborted
// and partial contents.
//
//nolint:gocyclo,cyclop,funlen // run orchestration keeps the abort paths explicit.
func Run(ctx context.Context, cfg Config, r runner.CommandRunner, sink Sink, opts Options) (*Summary, error) {
	sum := &Summary{Phase: PhaseIdle}
	setPhase := func(p Phase) {
		sum.Phase = p
		if opts.OnPhase != nil {
			opts.OnPhase(p)
		}
	}
	abort := func(err error) (*Summary, error) {
		setPhase(PhaseAborted)
		return sum, err
	}

	if err := cfg.Validate(); err != nil {
		return abort(err)
	}
	if r == nil || sink == nil {
		return abort(gateerr.New(gateerr.InternalError, "runner and sink are required"))
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(cfg.jobs())

	results := make(chan CaseResult)
	reduced := make(chan reduction, 1)
	go func() {
		reduced <- reduce(results, sink, cancelRun)
	}()

	setPhase(PhaseDiscovering)
	discovery := corpus.Discover(corpus.Options{
		Root:     cfg.Root,
		Suffix:   cfg.Suffix,
		Taxonomy: cfg.Taxonomy,
		OnUnmapped: func(path string) {
			sum.Unmapped = append(sum.Unmapped, path)
			if opts.OnUnmapped != nil {
				opts.OnUnmapped(path)
			}
		},
	})

	var discoverErr error
	running := false
	for c, err := range discovery {
		if err != nil {
			discoverErr = err
			break
		}
		if cfg.Strict && len(sum.Unmapped) > 0 {
			discoverErr = unmappedError(sum.Unmapped)
			break
		}
		if gctx.Err() != nil {
			break
		}
		if !running {
			running = true
			setPhase(PhaseRunning)
		}
		g.Go(func() error {
			res, err := r.Run(gctx, runner.Invocation{
				Argv:               cfg.Compiler,
				Path:               c.Path,
				Timeout:            cfg.Timeout,
				CaptureDiagnostics: cfg.CaptureDiagnostics,
			})
			if err != nil {
				return fmt.Errorf("case %s: %w", c.Path, err)
			}
			select {
			case results <- classify(cfg, c, res):
				return nil
			case <-gctx.Done():
				return gateerr.Wrap(gateerr.Interrupted, "run cancelled", context.Cause(gctx))
			}
		})
	}
	if discoverErr == nil && cfg.Strict && len(sum.Unmapped) > 0 {
		discoverErr = unmappedError(sum.Unmapped)
	}
	if discoverErr != nil {
		cancelRun(discoverErr)
	}
	waitErr := g.Wait()
	close(results)
	red := <-reduced

	sum.Tally = red.tally
	sum.Results = red.results
	sort.Strings(sum.Unmapped)

	switch {
	case discoverErr != nil:
		return abort(discoverErr)
	case red.err != nil:
		return abort(red.err)
	case waitErr != nil:
		return abort(waitErr)
	case ctx.Err() != nil:
		return abort(gateerr.Wrap(gateerr.Interrupted, "run cancelled", ctx.Err()))
	}

	setPhase(PhaseReporting)
	if err := sink.Summary(sum.Tally); err != nil {
		return abort(classifySinkError("write summary", err))
	}
	setPhase(PhaseDone)
	return sum, nil
}

func (c *Config) jobs() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.NumCPU()
}

func classify(cfg Config, c corpus.Case, res runner.Result) CaseResult {
	var out taxonomy.Outcome
	if res.Termination == runner.Exited {
		out = cfg.Taxonomy.Classify(res.Status)
	} else {
		out = taxonomy.SystemError(res.Detail(cfg.Timeout))
	}
	return CaseResult{Case: c, Result: res, Outcome: out, Passed: out.Matches(c.Category)}
}

func unmappedError(paths []string) error {
	dirs := make(map[string]struct{})
	for _, p := range paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)
	return gateerr.Newf(gateerr.UnmappedCategory, "test files in directories that name no category: %v", names)
}

type reduction struct {
	tally   Tally
	results []CaseResult
	err     error
}

// reduce is the single accumulation point. It counts results as they arrive
// and releases them to the sink in discovery order. After a sink failure it
// keeps draining so workers never block.
func reduce(in <-chan CaseResult, sink Sink, cancel context.CancelCauseFunc) reduction {
	var red reduction
	pending := make(map[int]CaseResult)
	next := 0
	for cr := range in {
		red.tally.record(cr.Passed)
		pending[cr.Case.Seq] = cr
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			red.results = append(red.results, ready)
			if red.err != nil || ready.Passed {
				continue
			}
			if err := emitFailure(sink, ready); err != nil {
				red.err = err
				cancel(err)
			}
		}
	}
	return red
}

func emitFailure(sink Sink, cr CaseResult) error {
	//nolint:gosec // case paths come from the corpus walk.
	src, err := os.ReadFile(cr.Case.Path)
	if err != nil {
		return gateerr.Wrap(gateerr.CorpusIO, "read failing case source", err)
	}
	err = sink.Failure(Failure{
		Case:        cr.Case,
		Outcome:     cr.Outcome,
		Description: taxonomy.Describe(cr.Case.Category, cr.Outcome),
		Source:      src,
		Diagnostics: cr.Result.Diagnostics,
	})
	if err != nil {
		return classifySinkError("write failure report", err)
	}
	return nil
}

func classifySinkError(msg string, err error) error {
	var ge *gateerr.Error
	if errors.As(err, &ge) {
		return err
	}
	return gateerr.Wrap(gateerr.InternalIO, msg, err)
}
