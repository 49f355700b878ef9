package main

import (
	"os"

	"github.com/agentdeck/agentdeck/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
