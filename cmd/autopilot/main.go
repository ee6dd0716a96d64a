package main

import (
	"os"

	"github.com/daydemir/autopilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
