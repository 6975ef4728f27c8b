package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lattice-substrate/exitgate/gateerr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `{
  "version": "v1",
  "suffix": "notc",
  "compiler": ["java", "-cp", "build", "notc.Compiler"],
  "timeout": "30s",
  "jobs": 2,
  "categories": [
    {"name": "good_programs", "status": 0, "label": "Good program", "verdict": "not caught"},
    {"name": "syntax_errors", "status": 1, "label": "Syntax error", "verdict": "rejected when parsing"}
  ]
}`)
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if fc.Jobs != 2 || len(fc.Compiler) != 4 {
		t.Fatalf("unexpected config: %+v", fc)
	}
	d, err := fc.TimeoutDuration()
	if err != nil || d != 30*time.Second {
		t.Fatalf("timeout = %s, %v", d, err)
	}
	tx, err := fc.Taxonomy()
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	if _, ok := tx.Lookup("syntax_errors"); !ok {
		t.Fatal("syntax_errors missing from taxonomy")
	}
	if NormalizeSuffix(fc.Suffix) != ".notc" {
		t.Fatalf("suffix not normalised: %q", NormalizeSuffix(fc.Suffix))
	}
}

func TestLoadConfigFilePreset(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, `{"version":"v1","preset":"three-way"}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	tx, err := fc.Taxonomy()
	if err != nil || tx == nil {
		t.Fatalf("taxonomy: %v", err)
	}
	if _, ok := tx.Lookup("semantic_errors"); !ok {
		t.Fatal("semantic_errors missing from three-way preset")
	}
}

func TestLoadConfigFileRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"version":"v1","colour":"red"}`, "unknown field"},
		{"trailing document", `{"version":"v1"} {}`, "trailing"},
		{"bad version", `{"version":"v2"}`, "version"},
		{"missing version", `{}`, "version"},
		{"malformed version", `{"version":"1"}`, "version"},
		{"bad timeout", `{"version":"v1","timeout":"soon"}`, "timeout"},
		{"negative jobs", `{"version":"v1","jobs":-2}`, "jobs"},
		{"preset and categories", `{"version":"v1","preset":"two-way","categories":[{"name":"a","status":0,"label":"A","verdict":"v"}]}`, "both"},
		{"missing status", `{"version":"v1","categories":[{"name":"type_errors","label":"Type error","verdict":"rejected in type checking"},{"name":"good_programs","status":1,"label":"Good program","verdict":"not caught"}]}`, "status is required"},
		{"duplicate status", `{"version":"v1","categories":[{"name":"a","status":0,"label":"A","verdict":"v"},{"name":"b","status":0,"label":"B","verdict":"v"}]}`, "share status"},
		{"unknown preset", `{"version":"v1","preset":"nine-way"}`, "preset"},
		{"empty compiler", `{"version":"v1","compiler":[""]}`, "compiler"},
		{"bad suffix", `{"version":"v1","suffix":".a.b"}`, "suffix"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfigFile(writeConfig(t, tc.body))
			if gateerr.ClassOf(err) != gateerr.InvalidConfig {
				t.Fatalf("expected INVALID_CONFIG, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	if _, ok := FindConfigFile(dir); ok {
		t.Fatal("found config in empty directory")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"version":"v1"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	path, ok := FindConfigFile(dir)
	if !ok || filepath.Base(path) != ConfigFileName {
		t.Fatalf("config not found: %q %v", path, ok)
	}
}

func TestLoadConfigFileAcceptsMinorVersions(t *testing.T) {
	for _, v := range []string{"v1", "v1.1", "v1.4.2"} {
		if _, err := LoadConfigFile(writeConfig(t, `{"version":"`+v+`"}`)); err != nil {
			t.Fatalf("version %s rejected: %v", v, err)
		}
	}
}

func TestLoadConfigFileTimeoutZero(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, `{"version":"v1","timeout":"0s"}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !fc.HasTimeout() {
		t.Fatal("explicit zero timeout reported as unset")
	}
	if d, err := fc.TimeoutDuration(); err != nil || d != 0 {
		t.Fatalf("timeout = %s, %v", d, err)
	}

	fc, err = LoadConfigFile(writeConfig(t, `{"version":"v1"}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if fc.HasTimeout() {
		t.Fatal("absent timeout reported as set")
	}
}

func TestTaxonomyKeepsExplicitStatusZero(t *testing.T) {
	fc, err := LoadConfigFile(writeConfig(t, `{"version":"v1","categories":[{"name":"good_programs","status":0,"label":"Good program","verdict":"not caught"}]}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	tx, err := fc.Taxonomy()
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	c, ok := tx.Lookup("good_programs")
	if !ok || c.Status != 0 {
		t.Fatalf("good_programs = %+v, %v", c, ok)
	}
}

func TestDefaultCompilerIsFresh(t *testing.T) {
	a := DefaultCompiler()
	a[0] = "mutated"
	if b := DefaultCompiler(); b[0] != "java" {
		t.Fatalf("default compiler shared between callers: %q", b)
	}
}
