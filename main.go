// The main package for the crawlengine executable.
package main

import (
	"github.com/JakeFAU/crawlengine/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
