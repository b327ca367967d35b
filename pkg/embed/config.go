package embed

import (
	"log/slog"

	"github.com/haivivi/hfembed/pkg/device"
)

// DefaultBackend is the loader used when no backend or loader is given.
const DefaultBackend = "onnx"

// config holds construction options for [HuggingFace].
type config struct {
	device  int
	logger  *slog.Logger
	probe   device.Probe
	loader  Loader
	backend string
}

// Option configures an embedder.
type Option func(*config)

// WithDevice sets the device preference: -1 for CPU, N >= 0 for GPU N.
// A GPU preference falls back to the CPU when no GPU is available.
func WithDevice(pref int) Option {
	return func(c *config) { c.device = pref }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithGPUProbe overrides the GPU capability query used to resolve the
// device. Without it the loader's own probe is used, if it has one.
func WithGPUProbe(p device.Probe) Option {
	return func(c *config) { c.probe = p }
}

// WithLoader sets the model loader directly, bypassing the registry.
func WithLoader(l Loader) Option {
	return func(c *config) { c.loader = l }
}

// WithBackend selects a registered loader by name.
func WithBackend(name string) Option {
	return func(c *config) { c.backend = name }
}
