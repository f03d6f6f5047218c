package main

import (
	"os"

	"github.com/stashfi/starmf/cmd/starmf/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
