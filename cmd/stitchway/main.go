package main

import (
	"os"

	"github.com/vvakame/stitchway/cmd/stitchway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
