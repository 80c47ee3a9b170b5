package main

import (
	"os"

	"github.com/printq/printq/cmd/printq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
