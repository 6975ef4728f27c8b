package taxonomy

import (
	"sort"

	"github.com/lattice-substrate/exitgate/gateerr"
)

// DefaultPreset is used when no categories are configured.
const DefaultPreset = "four-way"

var goodPrograms = Category{Name: "good_programs", Status: 0, Label: "Good program", Verdict: "not caught"}

var presets = map[string][]Category{
	"two-way": {
		goodPrograms,
		{Name: "bad_programs", Status: 1, Label: "Bad program", Verdict: "rejected"},
	},
	"three-way": {
		goodPrograms,
		{Name: "syntax_errors", Status: 1, Label: "Syntax error", Verdict: "rejected when parsing"},
		{Name: "semantic_errors", Status: 2, Label: "Semantic error", Verdict: "rejected in semantic analysis"},
	},
	"four-way": {
		goodPrograms,
		{Name: "lexical_errors", Status: 1, Label: "Lexical error", Verdict: "rejected when lexing"},
		{Name: "parse_errors", Status: 2, Label: "Parse error", Verdict: "rejected when parsing"},
		{Name: "type_errors", Status: 3, Label: "Type error", Verdict: "rejected in type checking"},
	},
}

// Preset returns a built-in taxonomy by name.
func Preset(name string) (*Taxonomy, error) {
	cats, ok := presets[name]
	if !ok {
		return nil, gateerr.Newf(gateerr.InvalidConfig, "unknown taxonomy preset %q (known: %v)", name, PresetNames())
	}
	return New(cats)
}

// PresetNames lists the built-in presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
