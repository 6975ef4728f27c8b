package corpus

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/tools/txtar"

	"github.com/lattice-substrate/exitgate/gateerr"
)

// ExtractArchive materialises a txtar-packaged corpus under dir and returns
// the corpus root. Archive file names are slash-separated paths relative to
// the root, e.g. "type_errors/unbound.notc".
//
//nolint:gosec // archive path is explicit operator input.
func ExtractArchive(archivePath, dir string) (string, error) {
	ar, err := txtar.ParseFile(archivePath)
	if err != nil {
		return "", gateerr.Wrap(gateerr.CorpusIO, "read corpus archive", err)
	}
	return WriteArchive(ar, dir)
}

// WriteArchive writes the files of ar under dir and returns dir.
func WriteArchive(ar *txtar.Archive, dir string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", gateerr.Wrap(gateerr.CorpusIO, "resolve archive root", err)
	}
	for _, f := range ar.Files {
		rel, err := archiveName(f.Name)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return "", gateerr.Wrap(gateerr.CorpusIO, "create corpus directory", err)
		}
		if err := os.WriteFile(dst, f.Data, 0o600); err != nil {
			return "", gateerr.Wrap(gateerr.CorpusIO, "write corpus file", err)
		}
	}
	return root, nil
}

func archiveName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", gateerr.New(gateerr.CorpusIO, "archive entry has empty name")
	}
	if path.IsAbs(trimmed) || filepath.IsAbs(trimmed) {
		return "", gateerr.Newf(gateerr.CorpusIO, "archive entry %q is absolute", name)
	}
	clean := path.Clean(trimmed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", gateerr.Newf(gateerr.CorpusIO, "archive entry %q escapes the corpus root", name)
	}
	return clean, nil
}
