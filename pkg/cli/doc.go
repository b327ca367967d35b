// Package cli provides common CLI utilities for hfembed command-line tools.
//
// This package includes:
//   - Configuration management (contexts)
//   - Output formatting (YAML, JSON, raw, MessagePack)
//   - jq queries over command results
//   - Input text loading (YAML/JSON lists or plain lines)
//
// Configuration is stored in ~/.hfembed/<app>/ ($HFEMBED_HOME/<app>/ when
// set), supporting multiple contexts similar to kubectl.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("hfembed")
//
//	// Named context, or the current one when name is empty
//	ctx, err := cfg.ResolveContext(name)
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	    Query:  ".embeddings[0]",
//	})
package cli
