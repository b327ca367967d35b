// Package sbert runs sentence-transformers models exported to ONNX.
//
// A model repository on the Hugging Face Hub (or a local directory with the
// same layout) provides the ONNX graph, the tokenizer and the
// sentence-transformers module configuration:
//
//	onnx/model.onnx             transformer graph (or model.onnx at the root)
//	tokenizer.json | vocab.txt  WordPiece tokenizer
//	modules.json                pipeline: Transformer, Pooling, Normalize
//	1_Pooling/config.json       pooling mode
//	sentence_bert_config.json   max_seq_length, do_lower_case
//	config.json                 transformer config
//
// Importing this package registers the loader as the "onnx" backend of
// package embed, using [DefaultHub] for downloads:
//
//	import _ "github.com/haivivi/hfembed/pkg/sbert"
//
//	e, err := embed.NewHuggingFace(ctx, "sentence-transformers/all-MiniLM-L6-v2")
package sbert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/haivivi/hfembed/pkg/device"
	"github.com/haivivi/hfembed/pkg/embed"
	"github.com/haivivi/hfembed/pkg/hub"
	"github.com/haivivi/hfembed/pkg/onnx"
	"github.com/haivivi/hfembed/pkg/storage"
	"github.com/haivivi/hfembed/pkg/tokenizer"
)

func init() {
	embed.RegisterLoader(embed.DefaultBackend, NewLoader())
}

// DefaultBatchSize matches the sentence-transformers encode default.
const DefaultBatchSize = 32

// sentenceEmbeddingOutput is the output name of graphs exported with the
// pooling and normalization modules fused in.
const sentenceEmbeddingOutput = "sentence_embedding"

// Inputs the tokenizer can feed.
const (
	inputIDs      = "input_ids"
	attentionMask = "attention_mask"
	tokenTypeIDs  = "token_type_ids"
)

// sharedEnv is the process-wide ONNX Runtime environment.
var sharedEnv = sync.OnceValues(func() (*onnx.Env, error) {
	return onnx.NewEnv("hfembed")
})

// Loader implements [embed.Loader] for ONNX sentence-transformers models.
type Loader struct {
	logger    *slog.Logger
	threads   int
	batchSize int

	hubOnce sync.Once
	hub     *hub.Hub
	hubErr  error
}

var (
	_ embed.Loader    = (*Loader)(nil)
	_ embed.GPUProber = (*Loader)(nil)
)

// Option configures a Loader.
type Option func(*Loader)

// WithHub sets where model files come from. Defaults to [DefaultHub].
func WithHub(h *hub.Hub) Option {
	return func(l *Loader) { l.hub = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithThreads bounds the intra-op threads of each session.
func WithThreads(n int) Option {
	return func(l *Loader) { l.threads = n }
}

// WithBatchSize sets how many texts go through the graph per run.
func WithBatchSize(n int) Option {
	return func(l *Loader) { l.batchSize = n }
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{batchSize: DefaultBatchSize}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.batchSize <= 0 {
		l.batchSize = DefaultBatchSize
	}
	return l
}

// CacheDir returns the model cache root: $HFEMBED_CACHE if set, otherwise
// hfembed under the user cache directory.
func CacheDir() (string, error) {
	if dir := os.Getenv("HFEMBED_CACHE"); dir != "" {
		return dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("sbert: cache dir: %w", err)
	}
	return filepath.Join(dir, "hfembed"), nil
}

// DefaultHub returns a hub caching under [CacheDir], authenticated with
// $HF_TOKEN and pointed at $HF_ENDPOINT when set.
func DefaultHub(logger *slog.Logger) (*hub.Hub, error) {
	dir, err := CacheDir()
	if err != nil {
		return nil, err
	}
	cache, err := storage.NewLocal(dir)
	if err != nil {
		return nil, err
	}
	opts := []hub.Option{hub.WithLogger(logger)}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		opts = append(opts, hub.WithToken(token))
	}
	if endpoint := os.Getenv("HF_ENDPOINT"); endpoint != "" {
		opts = append(opts, hub.WithEndpoint(endpoint))
	}
	return hub.New(cache, opts...), nil
}

// Hub returns the hub the loader reads from, creating the default one on
// first use.
func (l *Loader) Hub() (*hub.Hub, error) {
	l.hubOnce.Do(func() {
		if l.hub == nil {
			l.hub, l.hubErr = DefaultHub(l.logger)
		}
	})
	return l.hub, l.hubErr
}

// GPUAvailable reports whether ONNX Runtime has the CUDA provider.
func (l *Loader) GPUAvailable() bool {
	return onnx.CUDAAvailable()
}

// Load reads the model files, creates an inference session on dev and
// encodes one short text to learn the output dimension.
func (l *Loader) Load(ctx context.Context, modelID string, dev device.Device) (embed.Model, error) {
	h, err := l.Hub()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(ctx, h, modelID)
	if err != nil {
		return nil, err
	}
	tok, err := LoadTokenizer(ctx, h, modelID, cfg)
	if err != nil {
		return nil, err
	}
	graph, graphFile, err := readGraph(ctx, h, modelID)
	if err != nil {
		return nil, err
	}

	env, err := sharedEnv()
	if err != nil {
		return nil, err
	}
	session, err := env.NewSession(graph, &onnx.SessionOptions{
		IntraOpThreads: l.threads,
		CUDADevice:     dev.Index(),
	})
	if err != nil {
		return nil, fmt.Errorf("sbert: %s: %s: %w", modelID, graphFile, err)
	}

	m, err := newModel(onnxGraph{session}, tok, cfg, l.batchSize)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("sbert: %s: %w", modelID, err)
	}
	vecs, err := m.encodeChunk([]string{"hello"})
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("sbert: %s: test encode: %w", modelID, err)
	}
	m.dim = len(vecs[0])
	if !m.pooled && cfg.HiddenSize > 0 && m.dim != cfg.HiddenSize {
		session.Close()
		return nil, fmt.Errorf("sbert: %s: output width %d does not match hidden_size %d", modelID, m.dim, cfg.HiddenSize)
	}

	l.logger.Debug("sbert: session ready",
		"model", modelID,
		"graph", graphFile,
		"device", dev.String(),
		"output", m.output,
		"pooling", cfg.Pooling,
		"normalize", cfg.Normalize,
		"max_seq_length", cfg.MaxSeqLength,
		"dimension", m.dim,
	)
	return m, nil
}

// Fetch makes sure every file Load needs is in the hub cache and returns
// the files the repository provides.
func (l *Loader) Fetch(ctx context.Context, modelID string) ([]string, error) {
	h, err := l.Hub()
	if err != nil {
		return nil, err
	}

	var files []string
	have := func(file string) (bool, error) {
		r, err := h.Open(ctx, modelID, file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
		r.Close()
		files = append(files, file)
		return true, nil
	}

	for _, f := range []string{fileModules, fileSentenceConfig, fileModelConfig, fileTokenizerConfig} {
		if _, err := have(f); err != nil {
			return nil, err
		}
	}

	var modules []moduleJSON
	if slices.Contains(files, fileModules) {
		if _, err := readJSON(ctx, h, modelID, fileModules, &modules); err != nil {
			return nil, err
		}
	}
	for _, m := range modules {
		if strings.HasSuffix(m.Type, ".Pooling") {
			file, err := m.configFile(modelID)
			if err != nil {
				return nil, err
			}
			if _, err := have(file); err != nil {
				return nil, err
			}
		}
	}

	ok, err := have(fileTokenizerJSON)
	if err != nil {
		return nil, err
	}
	if !ok {
		if ok, err = have(fileVocab); err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("sbert: %s: no %s or %s: %w", modelID, fileTokenizerJSON, fileVocab, os.ErrNotExist)
		}
	}

	if ok, err = have(fileONNX); err != nil {
		return nil, err
	}
	if !ok {
		if ok, err = have(fileONNXRoot); err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("sbert: %s: no ONNX graph: %w", modelID, os.ErrNotExist)
		}
	}
	return files, nil
}

func readGraph(ctx context.Context, src fileSource, modelID string) ([]byte, string, error) {
	for _, file := range []string{fileONNX, fileONNXRoot} {
		data, err := src.ReadFile(ctx, modelID, file)
		if err == nil {
			return data, file, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("sbert: %s: no ONNX graph (%s or %s): %w", modelID, fileONNX, fileONNXRoot, os.ErrNotExist)
}

// graph runs the transformer. Run feeds the named int64 inputs, all of the
// given shape, and returns the requested float32 output with its shape.
type graph interface {
	InputNames() []string
	OutputNames() []string
	Run(names []string, inputs [][]int64, shape []int64, output string) ([]float32, []int64, error)
	Close() error
}

// onnxGraph is a graph backed by an ONNX Runtime session.
type onnxGraph struct {
	*onnx.Session
}

func (g onnxGraph) Run(names []string, inputs [][]int64, shape []int64, output string) ([]float32, []int64, error) {
	tensors := make([]*onnx.Tensor, 0, len(inputs))
	defer func() {
		for _, t := range tensors {
			t.Close()
		}
	}()
	for _, data := range inputs {
		t, err := onnx.NewInt64Tensor(shape, data)
		if err != nil {
			return nil, nil, err
		}
		tensors = append(tensors, t)
	}

	outputs, err := g.Session.Run(names, tensors, []string{output})
	if err != nil {
		return nil, nil, err
	}
	defer outputs[0].Close()

	outShape, err := outputs[0].Shape()
	if err != nil {
		return nil, nil, err
	}
	data, err := outputs[0].FloatData()
	if err != nil {
		return nil, nil, err
	}
	return data, outShape, nil
}

// model is a loaded graph plus its tokenizer and pooling settings.
// Session.Run is thread-safe and the tokenizer serializes its own calls, so
// Encode may be called concurrently.
type model struct {
	graph     graph
	tok       *tokenizer.Tokenizer
	cfg       *Config
	batchSize int

	inputs []string
	output string
	pooled bool
	dim    int
}

func newModel(g graph, tok *tokenizer.Tokenizer, cfg *Config, batchSize int) (*model, error) {
	inputs := g.InputNames()
	for _, name := range inputs {
		switch name {
		case inputIDs, attentionMask, tokenTypeIDs:
		default:
			return nil, fmt.Errorf("unsupported graph input %q", name)
		}
	}
	if !slices.Contains(inputs, inputIDs) {
		return nil, fmt.Errorf("graph has no %s input", inputIDs)
	}

	outputs := g.OutputNames()
	if len(outputs) == 0 {
		return nil, fmt.Errorf("graph has no outputs")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	m := &model{
		graph:     g,
		tok:       tok,
		cfg:       cfg,
		batchSize: batchSize,
		inputs:    inputs,
		output:    outputs[0],
	}
	if slices.Contains(outputs, sentenceEmbeddingOutput) {
		m.output = sentenceEmbeddingOutput
		m.pooled = true
	}
	return m, nil
}

func (m *model) Dimension() int { return m.dim }

func (m *model) Close() error { return m.graph.Close() }

func (m *model) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += m.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+m.batchSize, len(texts))
		vecs, err := m.encodeChunk(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (m *model) encodeChunk(texts []string) ([][]float32, error) {
	batch, err := m.tok.EncodeBatch(texts, m.cfg.MaxSeqLength)
	if err != nil {
		return nil, err
	}
	ids, mask, types := batch.Flatten()
	shape := []int64{int64(len(texts)), int64(batch.SeqLen)}

	inputs := make([][]int64, len(m.inputs))
	for i, name := range m.inputs {
		switch name {
		case attentionMask:
			inputs[i] = mask
		case tokenTypeIDs:
			inputs[i] = types
		default:
			inputs[i] = ids
		}
	}

	data, outShape, err := m.graph.Run(m.inputs, inputs, shape, m.output)
	if err != nil {
		return nil, err
	}

	var vecs [][]float32
	switch len(outShape) {
	case 2:
		vecs, err = splitRows(data, len(texts), int(outShape[1]))
	case 3:
		vecs, err = Pool(m.cfg.Pooling, data, mask, len(texts), batch.SeqLen, int(outShape[2]))
	default:
		err = fmt.Errorf("sbert: output %s has unsupported shape %v", m.output, outShape)
	}
	if err != nil {
		return nil, err
	}

	// Fused sentence_embedding outputs already include Normalize.
	if m.cfg.Normalize && !m.pooled {
		for _, v := range vecs {
			Normalize(v)
		}
	}
	return vecs, nil
}

func splitRows(data []float32, rows, dim int) ([][]float32, error) {
	if len(data) < rows*dim {
		return nil, fmt.Errorf("sbert: output too short: got %d, need %d", len(data), rows*dim)
	}
	out := make([][]float32, rows)
	for i := range out {
		out[i] = data[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return out, nil
}
