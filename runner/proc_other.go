//go:build !unix

package runner

import (
	"os"
	"os/exec"
	"syscall"
)

func isolate(*exec.Cmd) {}

func signalOf(*os.ProcessState) (syscall.Signal, bool) {
	return 0, false
}

func signalName(sig syscall.Signal) string {
	return sig.String()
}
