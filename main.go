// Idiomatic entrypoint for the Cobra CLI, which delegates to cmd/root.go.

package main

import (
	"github.com/inference-sim/batchrunner/cmd"
)

func main() {
	cmd.Execute()
}
