package main

import (
	"os"

	"github.com/karripar/va-hybrid-api/cmd/exchangectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
