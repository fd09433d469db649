// The main package for the site-spider executable.
package main

import (
	"github.com/JakeFAU/site-spider/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
