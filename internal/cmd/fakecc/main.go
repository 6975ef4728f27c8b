// Command fakecc is a scripted compiler stand-in for exercising exitgate.
package main

import (
	"os"

	"github.com/lattice-substrate/exitgate/internal/fakecc"
)

func main() {
	os.Exit(fakecc.Main(os.Args[1:], os.Stderr))
}
