package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/hfembed/pkg/cli"
)

const appName = "hfembed"

var (
	// Global flags
	cfgFile      string
	contextName  string
	outputFile   string
	formatOutput string
	outputJSON   bool
	queryExpr    string
	verbose      bool

	// Global configuration
	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "hfembed",
	Short: "Hugging Face text embedding CLI",
	Long: `hfembed - Generate text embeddings with Hugging Face models.

Models run locally through ONNX Runtime (backend "onnx", the default) on the
CPU or a CUDA device, or remotely on a text-embeddings-inference server
(backend "tei"). Model files are downloaded from the Hugging Face Hub into a
local cache, optionally through an S3 mirror.

Configuration is stored in ~/.hfembed/hfembed/ and supports multiple contexts,
similar to kubectl's context management.

Examples:
  # One-off encoding on the CPU
  hfembed encode --model sentence-transformers/all-MiniLM-L6-v2 "hello world"

  # Save defaults in a context and use the first GPU when available
  hfembed config add-context gpu --model BAAI/bge-small-en-v1.5 --device cuda:0
  hfembed config use-context gpu
  hfembed encode -f texts.yaml --format msgpack -o vectors.msgpack

  # Warm the cache before going offline
  hfembed fetch sentence-transformers/all-MiniLM-L6-v2`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.hfembed/hfembed/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "yaml", "output format: yaml, json, raw, msgpack")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().StringVarP(&queryExpr, "query", "q", "", "jq expression applied to the result, e.g. '.embeddings[0]'")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		// Commands that need config report it through getContext.
		slog.Warn("config unavailable", "error", err)
		globalConfig = nil
	}
}

// getConfig returns the global configuration
func getConfig() (*cli.Config, error) {
	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, nil
}

// getContext returns the context to use: the -c context, the current
// context, or an empty one when neither is set.
func getContext() (*cli.Context, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return cfg.ResolveContext(contextName)
}

// outputResult writes result in the selected format
func outputResult(result any) error {
	format, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}
	if outputJSON {
		format = cli.FormatJSON
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
		Query:  queryExpr,
	})
}
