package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/lattice-substrate/exitgate/corpus"
	"github.com/lattice-substrate/exitgate/gateerr"
	"github.com/lattice-substrate/exitgate/taxonomy"
)

const (
	// ConfigFileName is looked up in the corpus root when no config path is given.
	ConfigFileName = "exitgate.json"
	// ConfigVersion is the supported config major version; "v1.2" is accepted too.
	ConfigVersion = "v1"
	// DefaultTimeout bounds one compiler invocation.
	DefaultTimeout = 60 * time.Second
)

// DefaultCompiler returns the compiler command used when none is configured.
func DefaultCompiler() []string {
	return []string{"java", "notc.Compiler"}
}

// Config is a fully resolved harness run configuration.
type Config struct {
	Root     string
	Suffix   string
	Compiler []string
	Taxonomy *taxonomy.Taxonomy
	// Jobs bounds concurrent compiler processes; 0 means one per CPU.
	Jobs int
	// Timeout bounds one compiler invocation; 0 disables it.
	Timeout            time.Duration
	CaptureDiagnostics bool
	// Strict turns suffixed files in unmapped directories into a fatal error.
	Strict bool
}

// Validate checks a resolved configuration before any case runs.
func (c *Config) Validate() error {
	if c.Taxonomy == nil {
		return gateerr.New(gateerr.InvalidConfig, "taxonomy is required")
	}
	if len(c.Compiler) == 0 || strings.TrimSpace(c.Compiler[0]) == "" {
		return gateerr.New(gateerr.InvalidConfig, "compiler command is required")
	}
	if err := validateSuffix(c.Suffix); err != nil {
		return err
	}
	if c.Jobs < 0 {
		return gateerr.Newf(gateerr.InvalidConfig, "jobs cannot be negative, got %d", c.Jobs)
	}
	if c.Timeout < 0 {
		return gateerr.Newf(gateerr.InvalidConfig, "timeout cannot be negative, got %s", c.Timeout)
	}
	return nil
}

func validateSuffix(s string) error {
	if len(s) < 2 || s[0] != '.' || strings.ContainsAny(s[1:], `./\`) {
		return gateerr.Newf(gateerr.InvalidConfig, "suffix must look like %q, got %q", corpus.DefaultSuffix, s)
	}
	return nil
}

// NormalizeSuffix adds the leading dot to a bare extension.
func NormalizeSuffix(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasPrefix(s, ".") {
		return "." + s
	}
	return s
}

// FileConfig is the on-disk configuration document.
type FileConfig struct {
	Version    string              `json:"version"`
	Suffix     string              `json:"suffix,omitempty"`
	Compiler   []string            `json:"compiler,omitempty"`
	Timeout    string              `json:"timeout,omitempty"`
	Jobs       int                 `json:"jobs,omitempty"`
	Preset     string              `json:"preset,omitempty"`
	Categories []FileCategory `json:"categories,omitempty"`
}

// FileCategory is a taxonomy category as written in a config file. Status is
// a pointer so that a missing status is told apart from status 0.
type FileCategory struct {
	Name    string `json:"name"`
	Status  *int   `json:"status"`
	Label   string `json:"label"`
	Verdict string `json:"verdict"`
}

// LoadConfigFile reads, decodes, and validates a config document.
//
//nolint:gosec // config path is explicit operator input.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gateerr.Wrap(gateerr.InvalidConfig, "read config", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var fc FileConfig
	if err := dec.Decode(&fc); err != nil {
		return nil, gateerr.Wrap(gateerr.InvalidConfig, "decode config json", err)
	}
	if err := ensureSingleJSONDocument(dec); err != nil {
		return nil, gateerr.Wrap(gateerr.InvalidConfig, "decode config json", err)
	}
	if err := ValidateConfigFile(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// FindConfigFile returns root/exitgate.json if it exists.
func FindConfigFile(root string) (string, bool) {
	path := filepath.Join(root, ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

func ensureSingleJSONDocument(dec *json.Decoder) error {
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("unexpected trailing json content")
		}
		return fmt.Errorf("decode trailing json token: %w", err)
	}
	return nil
}

// ValidateConfigFile validates config document semantics.
func ValidateConfigFile(fc *FileConfig) error {
	if fc == nil {
		return gateerr.New(gateerr.InvalidConfig, "config is nil")
	}
	if !semver.IsValid(fc.Version) || semver.Major(fc.Version) != ConfigVersion {
		return gateerr.Newf(gateerr.InvalidConfig, "unsupported config version %q", fc.Version)
	}
	if fc.Suffix != "" {
		if err := validateSuffix(NormalizeSuffix(fc.Suffix)); err != nil {
			return err
		}
	}
	if len(fc.Compiler) != 0 && strings.TrimSpace(fc.Compiler[0]) == "" {
		return gateerr.New(gateerr.InvalidConfig, "compiler[0] cannot be empty")
	}
	if _, err := fc.TimeoutDuration(); err != nil {
		return err
	}
	if fc.Jobs < 0 {
		return gateerr.Newf(gateerr.InvalidConfig, "jobs cannot be negative, got %d", fc.Jobs)
	}
	if fc.Preset != "" && len(fc.Categories) != 0 {
		return gateerr.New(gateerr.InvalidConfig, "config sets both preset and categories")
	}
	for _, c := range fc.Categories {
		if c.Status == nil {
			return gateerr.Newf(gateerr.InvalidConfig, "category %q: status is required", c.Name)
		}
	}
	if _, err := fc.Taxonomy(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses the timeout field. An empty field yields 0; callers
// use HasTimeout to tell it apart from an explicit "0s", which disables the limit.
func (fc *FileConfig) TimeoutDuration() (time.Duration, error) {
	if fc.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(fc.Timeout)
	if err != nil {
		return 0, gateerr.Wrap(gateerr.InvalidConfig, "parse timeout", err)
	}
	if d < 0 {
		return 0, gateerr.Newf(gateerr.InvalidConfig, "timeout cannot be negative, got %s", d)
	}
	return d, nil
}

// HasTimeout reports whether the file sets a timeout, zero included.
func (fc *FileConfig) HasTimeout() bool {
	return fc.Timeout != ""
}

// Taxonomy builds the configured taxonomy, or nil if the file sets none.
func (fc *FileConfig) Taxonomy() (*taxonomy.Taxonomy, error) {
	switch {
	case len(fc.Categories) != 0:
		cats := make([]taxonomy.Category, 0, len(fc.Categories))
		for _, c := range fc.Categories {
			if c.Status == nil {
				return nil, gateerr.Newf(gateerr.InvalidConfig, "category %q: status is required", c.Name)
			}
			cats = append(cats, taxonomy.Category{Name: c.Name, Status: *c.Status, Label: c.Label, Verdict: c.Verdict})
		}
		return taxonomy.New(cats)
	case fc.Preset != "":
		return taxonomy.Preset(fc.Preset)
	default:
		return nil, nil
	}
}
