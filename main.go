// The main package for the movieingest executable.
package main

import (
	"github.com/JakeFAU/movie-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
