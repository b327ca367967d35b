package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haivivi/hfembed/pkg/device"
	"github.com/haivivi/hfembed/pkg/onnx"
)

var deviceFlag string

type deviceResult struct {
	Preference   int      `json:"preference" yaml:"preference"`
	Device       string   `json:"device" yaml:"device"`
	GPUAvailable bool     `json:"gpu_available" yaml:"gpu_available"`
	Providers    []string `json:"providers" yaml:"providers"`
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the resolved device and execution providers",
	Long: `Show which device a model would run on.

A preference of -1 (cpu) always selects the CPU. A GPU index selects
cuda:N when ONNX Runtime has the CUDA execution provider, and falls back
to the CPU otherwise.

Examples:
  hfembed device
  hfembed device --device cuda:1 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContext()
		if err != nil {
			return err
		}
		pref, err := (&modelFlags{device: deviceFlag}).resolveDevice(c)
		if err != nil {
			return err
		}

		providers, err := onnx.AvailableProviders()
		if err != nil {
			slog.Warn("listing execution providers failed", "error", err)
		}
		return outputResult(deviceResult{
			Preference:   pref,
			Device:       device.Resolve(pref, gpuProbe).String(),
			GPUAvailable: gpuProbe(),
			Providers:    providers,
		})
	},
}

func init() {
	deviceCmd.Flags().StringVar(&deviceFlag, "device", "", "device preference: cpu, cuda, cuda:N or N (default: context device)")
}
