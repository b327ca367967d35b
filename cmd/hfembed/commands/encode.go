package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/hfembed/pkg/cli"
)

var (
	encodeFlags     modelFlags
	encodeInputFile string
)

// encodeResult is the output of 'hfembed encode'.
type encodeResult struct {
	Model      string      `json:"model" yaml:"model"`
	Device     string      `json:"device" yaml:"device"`
	Dimension  int         `json:"dimension" yaml:"dimension"`
	Count      int         `json:"count" yaml:"count"`
	Embeddings [][]float32 `json:"embeddings" yaml:"embeddings"`
}

var encodeCmd = &cobra.Command{
	Use:   "encode [text...]",
	Short: "Generate embeddings for texts",
	Long: `Generate one embedding per input text, in input order.

Texts come from the arguments and from --file. A .yaml, .yml or .json file
holds a list of strings or a "texts" field; any other file, or "-" for stdin,
holds one text per line.

Examples:
  hfembed encode --model sentence-transformers/all-MiniLM-L6-v2 "first" "second"
  hfembed encode -f texts.yaml --device cuda:0 --json
  cat lines.txt | hfembed encode -f - --backend tei --tei-url http://localhost:8080/v1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		texts := append([]string(nil), args...)
		if encodeInputFile != "" {
			more, err := cli.LoadTexts(encodeInputFile)
			if err != nil {
				return err
			}
			texts = append(texts, more...)
		}
		if len(texts) == 0 {
			return fmt.Errorf("no input texts. Pass texts as arguments or use --file")
		}

		c, err := getContext()
		if err != nil {
			return err
		}
		e, err := newEmbedder(cmd.Context(), c, &encodeFlags)
		if err != nil {
			return err
		}
		defer e.Close()

		start := time.Now()
		vecs, err := e.EmbedBatch(cmd.Context(), texts)
		if err != nil {
			return err
		}
		slog.Debug("encode finished",
			"count", len(vecs),
			"elapsed", cli.FormatDuration(time.Since(start)),
		)

		return outputResult(encodeResult{
			Model:      e.Model(),
			Device:     e.Device().String(),
			Dimension:  e.Dimension(),
			Count:      len(vecs),
			Embeddings: vecs,
		})
	},
}

// addModelFlags registers the model selection flags on cmd.
func addModelFlags(cmd *cobra.Command, f *modelFlags) {
	cmd.Flags().StringVar(&f.model, "model", "", "model id or local directory (default: context model)")
	cmd.Flags().StringVar(&f.device, "device", "", "device: cpu, cuda, cuda:N or N (default: context device, else cpu)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "backend: onnx or tei (default: context backend, else onnx)")
	cmd.Flags().StringVar(&f.teiURL, "tei-url", "", "text-embeddings-inference base URL")
}

func init() {
	addModelFlags(encodeCmd, &encodeFlags)
	encodeCmd.Flags().StringVarP(&encodeInputFile, "file", "f", "", "input texts file (YAML, JSON or lines; - for stdin)")
}
