package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/hfembed/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

A context holds a default model, device preference and backend, plus the
Hub, S3 mirror and text-embeddings-inference settings used to load it.

Configuration is stored in ~/.hfembed/hfembed/config.yaml`,
}

var (
	addContextFlags modelFlags
	addContextUse   bool
)

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

Example:
  hfembed config add-context local --model sentence-transformers/all-MiniLM-L6-v2
  hfembed config add-context gpu --model BAAI/bge-small-en-v1.5 --device cuda:0 --use
  hfembed config add-context remote --backend tei --tei-url http://tei:8080/v1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		ctx := &cli.Context{
			Model:   addContextFlags.model,
			Device:  addContextFlags.device,
			Backend: addContextFlags.backend,
		}
		if addContextFlags.teiURL != "" {
			ctx.TEI = &cli.TEIConfig{BaseURL: addContextFlags.teiURL}
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q added successfully", name)

		if addContextUse {
			if err := cfg.UseContext(name); err != nil {
				return err
			}
			cli.PrintSuccess("Switched to context %q", name)
		}
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Switched to context %q", name)
		return nil
	},
}

var configCurrentContextCmd = &cobra.Command{
	Use:     "current-context",
	Aliases: []string{"get-context"},
	Short:   "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"ls", "get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		names := cfg.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured")
			fmt.Println("Create one with: hfembed config add-context <name>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tMODEL\tDEVICE\tBACKEND")
		for _, name := range names {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name,
				orDefault(ctx.Model), orDefault(ctx.Device), orDefault(ctx.Backend))
		}
		return w.Flush()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view [name]",
	Short: "View a context with secrets masked",
	Long: `View one context, or the whole configuration when no name is given
and no context is selected with -c. Tokens and keys are masked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := contextName
		if len(args) == 1 {
			name = args[0]
		}
		if name != "" {
			ctx, err := cfg.GetContext(name)
			if err != nil {
				return err
			}
			return outputResult(ctx.Masked())
		}

		view := struct {
			Path           string                  `json:"path" yaml:"path"`
			CurrentContext string                  `json:"current_context" yaml:"current_context"`
			Contexts       map[string]*cli.Context `json:"contexts" yaml:"contexts"`
		}{
			Path:           cfg.Path(),
			CurrentContext: cfg.CurrentContext,
			Contexts:       make(map[string]*cli.Context, len(cfg.Contexts)),
		}
		for name, ctx := range cfg.Contexts {
			view.Contexts[name] = ctx.Masked()
		}
		return outputResult(view)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <key> <value>",
	Short: "Set a context value",
	Long: `Set one value of a context.

Keys:
  ` + strings.Join(cli.SettableKeys, "\n  ") + `

Examples:
  hfembed config set gpu device cuda:1
  hfembed config set default hub.token hf_xxxx
  hfembed config set shared mirror.bucket models
  hfembed config set shared mirror.endpoint http://minio:9000`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, key, value := args[0], args[1], args[2]
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		ctx, err := cfg.GetContext(name)
		if err != nil {
			return err
		}
		if err := ctx.Set(key, value); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}

		cli.PrintSuccess("Set %s in context %q", key, name)
		return nil
	},
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

func init() {
	configAddContextCmd.Flags().StringVar(&addContextFlags.model, "model", "", "default model id or local directory")
	configAddContextCmd.Flags().StringVar(&addContextFlags.device, "device", "", "device preference: cpu, cuda, cuda:N or N")
	configAddContextCmd.Flags().StringVar(&addContextFlags.backend, "backend", "", "backend: onnx or tei")
	configAddContextCmd.Flags().StringVar(&addContextFlags.teiURL, "tei-url", "", "text-embeddings-inference base URL")
	configAddContextCmd.Flags().BoolVar(&addContextUse, "use", false, "switch to the new context")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configCurrentContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
}
