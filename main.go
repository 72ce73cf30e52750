// ./main.go
package main

import (
	"github.com/demodrive-ai/demodrive/cmd"
)

// main is the entry point for the demodrive CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
