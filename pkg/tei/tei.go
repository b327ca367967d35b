// Package tei is an embed backend for Hugging Face text-embeddings-inference
// servers and other OpenAI-compatible /v1/embeddings endpoints.
//
// The server hosts the model, so the resolved device only shows up in logs.
// Each Load call probes the server once to learn the embedding dimension.
//
//	l := tei.NewLoader("http://localhost:8080/v1")
//	e, err := embed.NewHuggingFace(ctx, "BAAI/bge-small-en-v1.5", embed.WithLoader(l))
package tei

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/haivivi/hfembed/pkg/device"
	"github.com/haivivi/hfembed/pkg/embed"
)

// DefaultBaseURL is the address text-embeddings-inference listens on when
// started locally with its default port mapping.
const DefaultBaseURL = "http://localhost:8080/v1"

// maxBatch is the default --max-client-batch-size of text-embeddings-inference.
const maxBatch = 32

// Loader implements [embed.Loader] by connecting to a remote server.
type Loader struct {
	client   *openai.Client
	logger   *slog.Logger
	maxBatch int
}

var _ embed.Loader = (*Loader)(nil)

// Option configures a Loader.
type Option func(*loaderConfig)

type loaderConfig struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	maxBatch   int
}

// WithAPIKey sets the bearer token sent to the server.
func WithAPIKey(key string) Option {
	return func(c *loaderConfig) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *loaderConfig) { c.httpClient = client }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *loaderConfig) { c.logger = l }
}

// WithMaxBatch sets how many inputs are sent per request.
func WithMaxBatch(n int) Option {
	return func(c *loaderConfig) { c.maxBatch = n }
}

// NewLoader creates a loader for the server at baseURL.
// An empty baseURL selects [DefaultBaseURL].
func NewLoader(baseURL string, opts ...Option) *Loader {
	cfg := loaderConfig{
		httpClient: http.DefaultClient,
		maxBatch:   maxBatch,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.maxBatch <= 0 {
		cfg.maxBatch = maxBatch
	}

	// text-embeddings-inference ignores the key unless started with
	// --api-key; openai-go requires a non-empty one.
	key := cfg.apiKey
	if key == "" {
		key = "tei"
	}
	client := openai.NewClient(
		option.WithAPIKey(key),
		option.WithHTTPClient(cfg.httpClient),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	return &Loader{client: &client, logger: cfg.logger, maxBatch: cfg.maxBatch}
}

// Load checks that the server serves modelID and returns a handle to it.
func (l *Loader) Load(ctx context.Context, modelID string, dev device.Device) (embed.Model, error) {
	m := &model{client: l.client, id: modelID, maxBatch: l.maxBatch}
	vecs, err := m.callAPI(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("tei: load %s: %w", modelID, err)
	}
	m.dim = len(vecs[0])
	if m.dim == 0 {
		return nil, fmt.Errorf("tei: load %s: server returned an empty embedding", modelID)
	}
	if dev.IsGPU() {
		l.logger.Debug("tei: device preference ignored for remote model", "model", modelID, "device", dev.String())
	}
	return m, nil
}

// model is a remote embedding model.
type model struct {
	client   *openai.Client
	id       string
	dim      int
	maxBatch int
}

func (m *model) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += m.maxBatch {
		end := min(i+m.maxBatch, len(texts))
		vecs, err := m.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("tei: batch [%d:%d]: %w", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

func (m *model) Dimension() int { return m.dim }

func (m *model) Close() error { return nil }

func (m *model) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          m.id,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}

	resp, err := m.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, len(texts))
		}
		vecs[idx] = float64sToFloat32s(item.Embedding)
	}

	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
