package main

import (
	"fmt"
	"os"

	"github.com/basket/crewctl/cmd/crewctl/commands"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	commands.SetVersionInfo(version, commit)
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
