package main

import (
	"fmt"
	"os"

	"github.com/mirrorops/mirrorctl/internal/cli"
	"github.com/mirrorops/mirrorctl/internal/tui"
)

// version is set via ldflags at build time: -ldflags "-X main.version=x.y.z"
var version = "dev"

func main() {
	// Handle dashboard mode (watch command)
	if len(os.Args) > 1 && os.Args[1] == "watch" {
		if err := tui.Run(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Use CLI for all other commands
	c := cli.New(version)
	c.Run()
}
