package main

import (
	"fmt"
	"os"

	"github.com/ferrybox/historydb/internal/cli"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		fmt.Fprintf(os.Stderr, "histdb: %s\n", err)
		os.Exit(1)
	}
}
