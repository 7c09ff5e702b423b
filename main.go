// The main package for the comic-cacher executable.
package main

import (
	"github.com/JakeFAU/comic-cacher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
