package main

import (
	"fmt"
	"os"

	"github.com/calderf/branchline/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "branchline: %v\n", err)
		os.Exit(1)
	}
}
