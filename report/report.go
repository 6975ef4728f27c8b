// Package report renders harness results for a developer at a terminal or
// in a CI log. Passing cases print nothing; each failure prints its file,
// category, mismatch description, and full source; the run ends with a
// one-line summary.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/lattice-substrate/exitgate/harness"
)

const (
	red   = "\033[31m"
	green = "\033[32m"
	reset = "\033[0m"
)

// ColorMode selects when ANSI colour is used.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode validates a --color value.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(s); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (want auto, always, or never)", s)
	}
}

// Reporter writes failure blocks and the summary line. It implements
// harness.Sink.
type Reporter struct {
	w     io.Writer
	color bool
}

// New returns a Reporter writing to w.
func New(w io.Writer, mode ColorMode) *Reporter {
	return &Reporter{w: w, color: useColor(w, mode)}
}

func useColor(w io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Failure writes one failure block.
func (r *Reporter) Failure(f harness.Failure) error {
	var b bytes.Buffer
	b.WriteString(r.paint(red, fmt.Sprintf("%s [%s]", f.Case.Name, f.Case.Category.Name)))
	b.WriteByte('\n')
	b.WriteString(f.Description)
	b.WriteByte('\n')
	writeBlock(&b, f.Source)
	if len(f.Diagnostics) > 0 {
		b.WriteString("--- diagnostics ---\n")
		writeBlock(&b, f.Diagnostics)
	}
	return r.write(b.Bytes())
}

// Summary writes the final "Passed n/m tests." line.
func (r *Reporter) Summary(t harness.Tally) error {
	color := green
	if !t.OK() {
		color = red
	}
	line := r.paint(color, fmt.Sprintf("Passed %d/%d tests.", t.Passed, t.Run))
	return r.write([]byte(line + "\n"))
}

func (r *Reporter) paint(color, s string) string {
	if !r.color {
		return s
	}
	return color + s + reset
}

func (r *Reporter) write(p []byte) error {
	if _, err := r.w.Write(p); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeBlock(b *bytes.Buffer, text []byte) {
	b.Write(text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		b.WriteByte('\n')
	}
}
