// ./main.go
package main

import (
	"github.com/xkilldash9x/droidpilot/cmd"
)

// main is the entry point for the droidpilot CLI.
func main() {
	// The root command handles all command-line parsing, configuration, and
	// execution.
	cmd.Execute()
}
