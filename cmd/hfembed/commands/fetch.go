package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haivivi/hfembed/pkg/cli"
	"github.com/haivivi/hfembed/pkg/hub"
	"github.com/haivivi/hfembed/pkg/sbert"
	"github.com/haivivi/hfembed/pkg/storage"
)

var (
	fetchModel string
	fetchPush  bool
)

type fetchedFile struct {
	Name string `json:"name" yaml:"name"`
	Size string `json:"size" yaml:"size"`
}

type fetchResult struct {
	Model    string        `json:"model" yaml:"model"`
	Revision string        `json:"revision" yaml:"revision"`
	Cache    string        `json:"cache" yaml:"cache"`
	Files    []fetchedFile `json:"files" yaml:"files"`
	Pushed   bool          `json:"pushed" yaml:"pushed"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [model]",
	Short: "Download model files into the local cache",
	Long: `Download every file the onnx backend needs for a model, so that later
runs work offline.

With --push the cached files are also copied to the context's S3 mirror,
from which other machines fetch before trying the Hub.

Examples:
  hfembed fetch sentence-transformers/all-MiniLM-L6-v2
  hfembed -c shared fetch BAAI/bge-small-en-v1.5 --push`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContext()
		if err != nil {
			return err
		}
		flags := modelFlags{model: fetchModel}
		if len(args) == 1 {
			flags.model = args[0]
		}
		model, err := flags.resolveModel(c)
		if err != nil {
			return err
		}

		h, cache, err := newHub(c)
		if err != nil {
			return err
		}
		files, err := sbert.NewLoader(sbert.WithHub(h)).Fetch(cmd.Context(), model)
		if err != nil {
			return err
		}

		result := fetchResult{
			Model:    model,
			Revision: h.Revision(),
			Cache:    cache.Root(),
		}
		for _, f := range files {
			result.Files = append(result.Files, fetchedFile{
				Name: f,
				Size: fileSize(cache, model, h.Revision(), f),
			})
		}

		if fetchPush {
			mirror, err := newMirror(c)
			if err != nil {
				return err
			}
			if mirror == nil {
				return fmt.Errorf("no mirror configured. Use 'hfembed config set <context> mirror.bucket <bucket>'")
			}
			for _, f := range files {
				if err := h.Publish(cmd.Context(), model, f, mirror); err != nil {
					return fmt.Errorf("push %s: %w", f, err)
				}
			}
			result.Pushed = true
		}
		return outputResult(result)
	},
}

// fileSize formats the size of a fetched file, or "-" if unknown.
func fileSize(cache *storage.Local, model, revision, file string) string {
	path, err := cache.Path(hub.CachePath(model, revision, file))
	if err != nil {
		return "-"
	}
	if hub.IsLocal(model) {
		path = filepath.Join(model, filepath.FromSlash(file))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return cli.FormatBytes(info.Size())
}

func init() {
	fetchCmd.Flags().StringVar(&fetchModel, "model", "", "model id (default: context model)")
	fetchCmd.Flags().BoolVar(&fetchPush, "push", false, "copy the files to the context's S3 mirror")
}
