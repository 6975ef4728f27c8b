// Package corpus discovers conformance test cases.
//
// A corpus is a directory tree. Every file carrying the configured suffix
// belongs to the category named by its immediate parent directory. Files in
// directories that name no category are not test cases.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/lattice-substrate/exitgate/gateerr"
	"github.com/lattice-substrate/exitgate/taxonomy"
)

// DefaultSuffix is the test file extension used when none is configured.
const DefaultSuffix = ".notc"

// Case is one discovered test file.
type Case struct {
	// Seq is the discovery ordinal, starting at 0.
	Seq      int
	Name     string
	Path     string
	Category taxonomy.Category
}

// Options configures discovery.
type Options struct {
	Root     string
	Suffix   string
	Taxonomy *taxonomy.Taxonomy
	// OnUnmapped, if set, is called with the absolute path of every suffixed
	// file whose directory names no category.
	OnUnmapped func(path string)
}

// Discover returns a lazy, single-pass sequence of cases under opts.Root.
// Cases are yielded in lexical walk order. A walk failure is yielded once
// as a CorpusIO error and ends the sequence.
func Discover(opts Options) iter.Seq2[Case, error] {
	return func(yield func(Case, error) bool) {
		root, err := checkRoot(opts)
		if err != nil {
			yield(Case{}, err)
			return
		}
		suffix := opts.Suffix
		if suffix == "" {
			suffix = DefaultSuffix
		}

		seq := 0
		stopped := false
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(d.Name()) != suffix {
				return nil
			}
			if !d.Type().IsRegular() {
				info, statErr := os.Stat(path)
				if statErr != nil || !info.Mode().IsRegular() {
					return nil
				}
			}
			cat, ok := opts.Taxonomy.Lookup(filepath.Base(filepath.Dir(path)))
			if !ok {
				if opts.OnUnmapped != nil {
					opts.OnUnmapped(path)
				}
				return nil
			}
			c := Case{Seq: seq, Name: d.Name(), Path: path, Category: cat}
			seq++
			if !yield(c, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil && !stopped {
			yield(Case{}, gateerr.Wrap(gateerr.CorpusIO, "walk corpus", walkErr))
		}
	}
}

// Collect drains a discovery sequence.
func Collect(seq iter.Seq2[Case, error]) ([]Case, error) {
	var out []Case
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func checkRoot(opts Options) (string, error) {
	if opts.Taxonomy == nil {
		return "", gateerr.New(gateerr.InvalidConfig, "taxonomy is required")
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", gateerr.Wrap(gateerr.CorpusIO, "resolve corpus root", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", gateerr.Newf(gateerr.CorpusIO, "corpus root %s does not exist", abs)
		}
		return "", gateerr.Wrap(gateerr.CorpusIO, "stat corpus root", err)
	}
	if !info.IsDir() {
		return "", gateerr.New(gateerr.CorpusIO, fmt.Sprintf("corpus root %s is not a directory", abs))
	}
	return abs, nil
}
