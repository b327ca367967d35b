// Package main provides the hfembed CLI.
//
// Usage:
//
//	hfembed [flags] <command> [args]
//
// Commands:
//
//	encode   - Generate embeddings for texts
//	fetch    - Download model files into the local cache
//	device   - Show the resolved device and execution providers
//	config   - Configuration management (contexts)
//	version  - Show version information
//
// Configuration:
//
//	The CLI stores configuration in ~/.hfembed/hfembed/
//	Use 'hfembed config' commands to manage contexts.
package main

import (
	"os"

	"github.com/haivivi/hfembed/cmd/hfembed/commands"
	"github.com/haivivi/hfembed/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
