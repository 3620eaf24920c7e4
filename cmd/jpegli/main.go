package main

import (
	"os"

	"github.com/gen2brain/jpegli/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
