package main

import (
	"os"

	"broker_gateway/cmd/lstctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
