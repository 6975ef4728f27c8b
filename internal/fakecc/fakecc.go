// Package fakecc is a scripted stand-in for a compiler under test.
//
// It takes exactly one argument, a source path, and behaves as directed by
// comment lines in that file:
//
//	// stderr: <text>     write text to stderr (repeatable)
//	// sleep: <duration>  sleep before terminating
//	// signal: KILL|TERM  terminate by signal
//	// exit: <n>          exit with status n (default 0)
//
// A missing source file exits 3, like the compiler it stands in for.
package fakecc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	exitUsage   = 64
	exitNoInput = 3
)

// Script is the behaviour parsed from a source file.
type Script struct {
	Stderr []string
	Sleep  time.Duration
	Signal string
	Exit   int
}

// Parse reads directives from source text. Unknown comments are ignored.
func Parse(src []byte) (Script, error) {
	var s Script
	sc := bufio.NewScanner(bytes.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "//") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "//")), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "stderr":
			s.Stderr = append(s.Stderr, value)
		case "sleep":
			d, err := time.ParseDuration(value)
			if err != nil {
				return Script{}, fmt.Errorf("sleep directive: %w", err)
			}
			s.Sleep = d
		case "signal":
			s.Signal = strings.ToUpper(value)
		case "exit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Script{}, fmt.Errorf("exit directive: %w", err)
			}
			s.Exit = n
		}
	}
	return s, sc.Err()
}

// Main runs the stand-in compiler and returns its exit status.
func Main(args []string, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: fakecc <source file>")
		return exitUsage
	}
	//nolint:gosec // the source path is the whole point of the program.
	src, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%s: No such file\n", args[0])
		return exitNoInput
	}
	script, err := Parse(src)
	if err != nil {
		fmt.Fprintf(stderr, "fakecc: %v\n", err)
		return exitUsage
	}
	for _, line := range script.Stderr {
		fmt.Fprintln(stderr, line)
	}
	if script.Sleep > 0 {
		time.Sleep(script.Sleep)
	}
	if script.Signal != "" {
		if err := raise(script.Signal); err != nil {
			fmt.Fprintf(stderr, "fakecc: %v\n", err)
			return exitUsage
		}
		// Signal delivery is asynchronous.
		time.Sleep(time.Minute)
	}
	return script.Exit
}

func raise(name string) error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	switch name {
	case "KILL":
		return p.Signal(os.Kill)
	case "TERM":
		return p.Signal(syscall.SIGTERM)
	default:
		return fmt.Errorf("unsupported signal %q", name)
	}
}
