// The main package for the knowledge-engine executable.
package main

import (
	"github.com/JakeFAU/knowledge-engine/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
