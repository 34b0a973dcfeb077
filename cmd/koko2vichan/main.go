package main

import (
	"fmt"
	"os"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	app := newCLIApp(os.Stdin, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
