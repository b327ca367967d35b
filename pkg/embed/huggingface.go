package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haivivi/hfembed/pkg/device"
)

// HuggingFace implements [Embedder] on top of a pretrained Hugging Face
// sentence-embedding model.
//
// The device and model are fixed at construction. EmbedBatch performs one
// blocking call into the model and holds no locks, so concurrent callers
// rely on the model being safe for concurrent Encode calls.
type HuggingFace struct {
	modelID string
	device  device.Device
	model   Model
	logger  *slog.Logger
}

var _ Embedder = (*HuggingFace)(nil)

// NewHuggingFace resolves the compute device and loads modelID.
//
// Loading is blocking and may fetch weights over the network. Errors from
// the loader are returned unchanged.
func NewHuggingFace(ctx context.Context, modelID string, opts ...Option) (*HuggingFace, error) {
	cfg := config{
		device:  device.CPUPreference,
		backend: DefaultBackend,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if modelID == "" {
		return nil, ErrEmptyModelID
	}

	loader := cfg.loader
	if loader == nil {
		l, err := LookupLoader(cfg.backend)
		if err != nil {
			return nil, err
		}
		loader = l
	}

	probe := cfg.probe
	if probe == nil {
		if p, ok := loader.(GPUProber); ok {
			probe = p.GPUAvailable
		}
	}
	dev := device.Resolve(cfg.device, probe)

	model, err := loader.Load(ctx, modelID, dev)
	if err != nil {
		return nil, err
	}

	cfg.logger.Info("embedding model loaded",
		"model", modelID,
		"requested_device", cfg.device,
		"device", dev.String(),
		"dimension", model.Dimension(),
	)

	return &HuggingFace{
		modelID: modelID,
		device:  dev,
		model:   model,
		logger:  cfg.logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (h *HuggingFace) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per text, row i for texts[i].
//
// An empty batch yields an empty matrix without calling the model. Any
// failure, including a malformed model result, is reported as a
// *GenerationError and no rows are returned.
func (h *HuggingFace) EmbedBatch(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	h.logger.Info("generating embeddings", "model", h.modelID, "count", len(texts))
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			vecs = nil
			err = &GenerationError{Model: h.modelID, Err: fmt.Errorf("model panic: %v", r)}
		}
	}()

	out, err := h.model.Encode(ctx, texts)
	if err != nil {
		return nil, &GenerationError{Model: h.modelID, Err: err}
	}
	vecs, err = toMatrix(out, len(texts), h.model.Dimension())
	if err != nil {
		return nil, &GenerationError{Model: h.modelID, Err: err}
	}
	return vecs, nil
}

// Dimension returns the model's embedding dimensionality.
func (h *HuggingFace) Dimension() int {
	return h.model.Dimension()
}

// Model returns the model identifier.
func (h *HuggingFace) Model() string {
	return h.modelID
}

// Device returns the device the model was loaded onto.
func (h *HuggingFace) Device() device.Device {
	return h.device
}

// Close releases the loaded model.
func (h *HuggingFace) Close() error {
	return h.model.Close()
}

// toMatrix checks that out has exactly rows rows of dim columns each.
func toMatrix(out [][]float32, rows, dim int) ([][]float32, error) {
	if len(out) != rows {
		return nil, fmt.Errorf("model returned %d embeddings for %d texts", len(out), rows)
	}
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return out, nil
}
