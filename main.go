// The main package for the webthumb executable.
package main

import (
	"github.com/JakeFAU/webthumb/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
