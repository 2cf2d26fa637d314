package main

import (
	"fmt"
	"os"

	"github.com/harrison/aegis/internal/cmd"
)

// version is overridden at build time via -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	cmd.Version = version
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
