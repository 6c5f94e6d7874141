package main

import (
	"os"

	"github.com/Carmen-Shannon/pointfield/cmd/pointfield/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
