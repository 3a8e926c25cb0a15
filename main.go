// The main package for the crawlpilot executable.
package main

import (
	"github.com/crawlops/crawlpilot/cmd"
	"github.com/joho/godotenv"
)

// main loads a .env file when one is present and defers everything else
// to the Cobra CLI.
func main() {
	_ = godotenv.Load()
	cmd.Execute()
}
