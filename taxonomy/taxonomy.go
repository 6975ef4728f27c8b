// Package taxonomy defines the closed outcome vocabulary of a conformance corpus.
//
// A Taxonomy maps category directory names to the exit status the compiler
// under test must produce for files in them, and classifies observed
// statuses back into categories. Anything outside the configured set is an
// unexpected system error and never matches an expected status.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lattice-substrate/exitgate/gateerr"
)

// Category is one taxonomy bucket.
type Category struct {
	// Name is the directory basename that selects the category.
	Name string `json:"name"`
	// Status is the expected exit status for files in the category.
	Status int `json:"status"`
	// Label names the category when it is the expected outcome, e.g. "Type error".
	Label string `json:"label"`
	// Verdict describes a status landing in the category, e.g. "rejected in type checking".
	Verdict string `json:"verdict"`
}

// OutcomeKind distinguishes category outcomes from system errors.
type OutcomeKind int

const (
	// OutcomeCategory is a status that belongs to a configured category.
	OutcomeCategory OutcomeKind = iota
	// OutcomeSystemError is any status outside the configured set, a signal
	// death, or a timeout.
	OutcomeSystemError
)

// SystemErrorLabel prefixes descriptions of unexpected system errors.
const SystemErrorLabel = "Unexpected system error"

// Outcome is the classification of one observed run.
type Outcome struct {
	Kind     OutcomeKind
	Category Category
	// Detail explains a system error, e.g. "exit status 5".
	Detail string
}

// Matches reports whether the outcome is the expected category.
func (o Outcome) Matches(expected Category) bool {
	return o.Kind == OutcomeCategory && o.Category.Status == expected.Status
}

// SystemError builds a system-error outcome with the given detail.
func SystemError(detail string) Outcome {
	return Outcome{Kind: OutcomeSystemError, Detail: detail}
}

// Taxonomy is a validated, immutable set of categories.
type Taxonomy struct {
	categories []Category
	byName     map[string]Category
	byStatus   map[int]Category
}

// New validates categories and builds a Taxonomy. Order is preserved.
//
//nolint:gocyclo,cyclop // validation is a flat list of explicit checks.
func New(categories []Category) (*Taxonomy, error) {
	if len(categories) == 0 {
		return nil, gateerr.New(gateerr.InvalidConfig, "taxonomy must define at least one category")
	}
	t := &Taxonomy{
		categories: append([]Category(nil), categories...),
		byName:     make(map[string]Category, len(categories)),
		byStatus:   make(map[int]Category, len(categories)),
	}
	for i, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "category[%d] name is required", i)
		}
		if strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "category %q: name must be a single directory name", c.Name)
		}
		if c.Status < 0 {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "category %q: status must be non-negative, got %d", c.Name, c.Status)
		}
		if strings.TrimSpace(c.Label) == "" {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "category %q: label is required", c.Name)
		}
		if strings.TrimSpace(c.Verdict) == "" {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "category %q: verdict is required", c.Name)
		}
		if _, ok := t.byName[c.Name]; ok {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "duplicate category name %q", c.Name)
		}
		if prev, ok := t.byStatus[c.Status]; ok {
			return nil, gateerr.Newf(gateerr.InvalidConfig, "categories %q and %q share status %d", prev.Name, c.Name, c.Status)
		}
		t.byName[c.Name] = c
		t.byStatus[c.Status] = c
	}
	return t, nil
}

// Categories returns the categories in configuration order.
func (t *Taxonomy) Categories() []Category {
	return append([]Category(nil), t.categories...)
}

// Lookup returns the category for a directory basename.
func (t *Taxonomy) Lookup(name string) (Category, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Statuses returns the known statuses in ascending order.
func (t *Taxonomy) Statuses() []int {
	out := make([]int, 0, len(t.byStatus))
	for s := range t.byStatus {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Classify maps a normal exit status to an outcome.
func (t *Taxonomy) Classify(status int) Outcome {
	if c, ok := t.byStatus[status]; ok {
		return Outcome{Kind: OutcomeCategory, Category: c}
	}
	return SystemError(fmt.Sprintf("exit status %d", status))
}

// Describe renders the mismatch between the expected category and an
// observed outcome, e.g. "Type error not caught".
func Describe(expected Category, got Outcome) string {
	if got.Kind == OutcomeSystemError {
		if got.Detail == "" {
			return SystemErrorLabel
		}
		return fmt.Sprintf("%s (%s)", SystemErrorLabel, got.Detail)
	}
	return expected.Label + " " + got.Category.Verdict
}
