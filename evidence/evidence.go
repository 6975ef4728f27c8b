// Package evidence records a harness run as a machine-readable artifact.
//
// Artifacts are written as RFC 8785 canonical JSON. The cases_sha256 digest
// covers the canonical form of the per-case records only, so two runs over
// an unchanged corpus with a deterministic compiler agree on it regardless
// of when they ran.
package evidence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/lattice-substrate/exitgate/gateerr"
	"github.com/lattice-substrate/exitgate/harness"
	"github.com/lattice-substrate/exitgate/runner"
	"github.com/lattice-substrate/exitgate/taxonomy"
)

const SchemaVersion = "exitgate.evidence.v1"

// Bundle is one run's evidence artifact.
type Bundle struct {
	SchemaVersion  string              `json:"schema_version"`
	GeneratedAtUTC string              `json:"generated_at_utc"`
	Suffix         string              `json:"suffix"`
	Compiler       []string            `json:"compiler"`
	Taxonomy       []taxonomy.Category `json:"taxonomy"`
	Cases          []Case              `json:"cases"`
	NRun           int                 `json:"n_run"`
	NPassed        int                 `json:"n_passed"`
	Passed         bool                `json:"passed"`
	CasesSHA256    string              `json:"cases_sha256"`
}

// Case is the record of one test case.
type Case struct {
	// Path is relative to the corpus root, slash separated.
	Path         string `json:"path"`
	Category     string `json:"category"`
	Expected     int    `json:"expected_status"`
	Actual       int    `json:"actual_status"`
	Termination  string `json:"termination"`
	Passed       bool   `json:"passed"`
	SourceSHA256 string `json:"source_sha256"`
}

// BuildOptions controls Build.
type BuildOptions struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// Build assembles the evidence for a completed run.
func Build(cfg harness.Config, sum *harness.Summary, opts BuildOptions) (*Bundle, error) {
	if sum == nil || cfg.Taxonomy == nil {
		return nil, gateerr.New(gateerr.InternalError, "evidence needs a configuration and a run summary")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	cases := make([]Case, 0, len(sum.Results))
	for _, cr := range sum.Results {
		rel, err := filepath.Rel(cfg.Root, cr.Case.Path)
		if err != nil {
			return nil, gateerr.Wrap(gateerr.InternalError, "relativize case path", err)
		}
		digest, err := fileSHA256(cr.Case.Path)
		if err != nil {
			return nil, err
		}
		cases = append(cases, Case{
			Path:         filepath.ToSlash(rel),
			Category:     cr.Case.Category.Name,
			Expected:     cr.Case.Category.Status,
			Actual:       cr.Result.Status,
			Termination:  string(cr.Result.Termination),
			Passed:       cr.Passed,
			SourceSHA256: digest,
		})
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Path < cases[j].Path })

	casesDigest, err := CasesDigest(cases)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		SchemaVersion:  SchemaVersion,
		GeneratedAtUTC: now().UTC().Format(time.RFC3339Nano),
		Suffix:         cfg.Suffix,
		Compiler:       append([]string(nil), cfg.Compiler...),
		Taxonomy:       cfg.Taxonomy.Categories(),
		Cases:          cases,
		NRun:           sum.Tally.Run,
		NPassed:        sum.Tally.Passed,
		Passed:         sum.Tally.OK(),
		CasesSHA256:    casesDigest,
	}, nil
}

// CasesDigest is the hex SHA-256 of the canonical JSON form of cases.
func CasesDigest(cases []Case) (string, error) {
	if cases == nil {
		cases = []Case{}
	}
	canon, err := canonical(cases)
	if err != nil {
		return "", err
	}
	return sha256Hex(canon), nil
}

// Write stores b at path in canonical form.
func Write(path string, b *Bundle) error {
	if b == nil {
		return gateerr.New(gateerr.InternalError, "evidence bundle is nil")
	}
	data, err := canonical(b)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return gateerr.Wrap(gateerr.InternalIO, "write evidence file", err)
	}
	return nil
}

// Load reads an artifact. Unknown fields and trailing content are rejected.
func Load(path string) (*Bundle, error) {
	//nolint:gosec // evidence path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gateerr.Wrap(gateerr.EvidenceInvalid, "read evidence", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, gateerr.Wrap(gateerr.EvidenceInvalid, "decode evidence", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, gateerr.New(gateerr.EvidenceInvalid, "unexpected trailing content in evidence")
	}
	return &b, nil
}

// Verify checks the internal consistency of an artifact.
func Verify(b *Bundle) error {
	if b == nil {
		return gateerr.New(gateerr.EvidenceInvalid, "evidence bundle is nil")
	}
	if b.SchemaVersion != SchemaVersion {
		return gateerr.Newf(gateerr.EvidenceInvalid, "unsupported schema_version %q", b.SchemaVersion)
	}
	if b.NRun != len(b.Cases) {
		return gateerr.Newf(gateerr.EvidenceInvalid, "n_run=%d but %d case records", b.NRun, len(b.Cases))
	}
	if b.NPassed < 0 || b.NPassed > b.NRun {
		return gateerr.Newf(gateerr.EvidenceInvalid, "n_passed=%d out of range for n_run=%d", b.NPassed, b.NRun)
	}
	passed := 0
	for i, c := range b.Cases {
		if c.Path == "" || c.Category == "" || len(c.SourceSHA256) != sha256.Size*2 {
			return gateerr.Newf(gateerr.EvidenceInvalid, "case %d is incomplete", i)
		}
		if i > 0 && b.Cases[i-1].Path >= c.Path {
			return gateerr.Newf(gateerr.EvidenceInvalid, "case records not sorted at %q", c.Path)
		}
		if c.Passed != (c.Termination == string(runner.Exited) && c.Actual == c.Expected) {
			return gateerr.Newf(gateerr.EvidenceInvalid, "case %q passed flag disagrees with its statuses", c.Path)
		}
		if c.Passed {
			passed++
		}
	}
	if passed != b.NPassed {
		return gateerr.Newf(gateerr.EvidenceInvalid, "n_passed=%d but %d passing case records", b.NPassed, passed)
	}
	if b.Passed != (b.NPassed == b.NRun) {
		return gateerr.New(gateerr.EvidenceInvalid, "passed flag disagrees with counters")
	}
	digest, err := CasesDigest(b.Cases)
	if err != nil {
		return err
	}
	if digest != b.CasesSHA256 {
		return gateerr.New(gateerr.EvidenceInvalid, "cases_sha256 mismatch")
	}
	return nil
}

func canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, gateerr.Wrap(gateerr.InternalError, "marshal evidence", err)
	}
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, gateerr.Wrap(gateerr.InternalError, "canonicalize evidence", err)
	}
	return out, nil
}

func fileSHA256(path string) (string, error) {
	//nolint:gosec // case paths come from the corpus walk.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", gateerr.Wrap(gateerr.CorpusIO, fmt.Sprintf("hash %s", path), err)
	}
	return sha256Hex(data), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
