package sbert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/haivivi/hfembed/pkg/hub"
)

// memSource serves model files from memory.
type memSource map[string]string

func (m memSource) ReadFile(_ context.Context, modelID, file string) ([]byte, error) {
	data, ok := m[file]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", modelID, file, os.ErrNotExist)
	}
	return []byte(data), nil
}

const miniLMModules = `[
  {"idx": 0, "name": "0", "path": "", "type": "sentence_transformers.models.Transformer"},
  {"idx": 1, "name": "1", "path": "1_Pooling", "type": "sentence_transformers.models.Pooling"},
  {"idx": 2, "name": "2", "path": "2_Normalize", "type": "sentence_transformers.models.Normalize"}
]`

func TestLoadConfigSentenceTransformers(t *testing.T) {
	src := memSource{
		"modules.json":              miniLMModules,
		"1_Pooling/config.json":     `{"word_embedding_dimension": 384, "pooling_mode_cls_token": false, "pooling_mode_mean_tokens": true}`,
		"sentence_bert_config.json": `{"max_seq_length": 256, "do_lower_case": false}`,
		"config.json":               `{"hidden_size": 384, "max_position_embeddings": 512}`,
	}
	cfg, err := LoadConfig(context.Background(), src, "sentence-transformers/all-MiniLM-L6-v2")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pooling != PoolMean {
		t.Errorf("Pooling = %q, want %q", cfg.Pooling, PoolMean)
	}
	if !cfg.Normalize {
		t.Error("Normalize = false, want true")
	}
	if cfg.MaxSeqLength != 256 {
		t.Errorf("MaxSeqLength = %d, want 256", cfg.MaxSeqLength)
	}
	if cfg.Lowercase == nil || *cfg.Lowercase {
		t.Errorf("Lowercase = %v, want false", cfg.Lowercase)
	}
	if cfg.HiddenSize != 384 {
		t.Errorf("HiddenSize = %d, want 384", cfg.HiddenSize)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), memSource{}, "bert-base-uncased")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pooling != PoolMean || cfg.Normalize {
		t.Errorf("got pooling=%q normalize=%v, want mean without normalize", cfg.Pooling, cfg.Normalize)
	}
	if cfg.MaxSeqLength != 512 {
		t.Errorf("MaxSeqLength = %d, want 512", cfg.MaxSeqLength)
	}
	if cfg.Lowercase != nil {
		t.Errorf("Lowercase = %v, want nil", *cfg.Lowercase)
	}
}

func TestLoadConfigPoolingModes(t *testing.T) {
	tests := []struct {
		config string
		want   PoolingMode
	}{
		{`{"pooling_mode_cls_token": true}`, PoolCLS},
		{`{"pooling_mode_max_tokens": true}`, PoolMax},
		{`{"pooling_mode_mean_sqrt_len_tokens": true}`, PoolMeanSqrtLen},
		{`{}`, PoolMean},
	}
	for _, tt := range tests {
		src := memSource{
			"modules.json":          `[{"path": "", "type": "sentence_transformers.models.Pooling"}]`,
			"1_Pooling/config.json": tt.config,
		}
		cfg, err := LoadConfig(context.Background(), src, "m")
		if err != nil {
			t.Fatalf("%s: %v", tt.config, err)
		}
		if cfg.Pooling != tt.want {
			t.Errorf("%s: Pooling = %q, want %q", tt.config, cfg.Pooling, tt.want)
		}
	}
}

func TestLoadConfigConcatenatedPooling(t *testing.T) {
	src := memSource{
		"modules.json":          `[{"path": "1_Pooling", "type": "sentence_transformers.models.Pooling"}]`,
		"1_Pooling/config.json": `{"pooling_mode_cls_token": true, "pooling_mode_mean_tokens": true}`,
	}
	if _, err := LoadConfig(context.Background(), src, "m"); err == nil {
		t.Fatal("expected error for concatenated pooling")
	}
}

func TestLoadConfigCapsToPositions(t *testing.T) {
	src := memSource{
		"sentence_bert_config.json": `{"max_seq_length": 1024}`,
		"config.json":               `{"max_position_embeddings": 128}`,
	}
	cfg, err := LoadConfig(context.Background(), src, "m")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxSeqLength != 128 {
		t.Errorf("MaxSeqLength = %d, want 128", cfg.MaxSeqLength)
	}
}

const escapingModules = `[
  {"idx": 0, "name": "0", "path": "", "type": "sentence_transformers.models.Transformer"},
  {"idx": 1, "name": "1", "path": "../../escaped", "type": "sentence_transformers.models.Pooling"}
]`

func TestLoadConfigRejectsModulePathOutsideRepo(t *testing.T) {
	src := memSource{
		"modules.json":              escapingModules,
		"../../escaped/config.json": `{"pooling_mode_cls_token": true}`,
	}
	_, err := LoadConfig(context.Background(), src, "org/model")
	if !errors.Is(err, hub.ErrInvalidFile) {
		t.Fatalf("err = %v, want hub.ErrInvalidFile", err)
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	src := memSource{"modules.json": `{not json`}
	if _, err := LoadConfig(context.Background(), src, "m"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigReadError(t *testing.T) {
	boom := errors.New("boom")
	src := failingSource{err: boom}
	_, err := LoadConfig(context.Background(), src, "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

type failingSource struct{ err error }

func (f failingSource) ReadFile(context.Context, string, string) ([]byte, error) {
	return nil, f.err
}

const vocab = "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nhello\nworld\n"

func TestLoadTokenizerVocabFallback(t *testing.T) {
	src := memSource{
		"vocab.txt":             vocab,
		"tokenizer_config.json": `{"do_lower_case": true}`,
	}
	tok, err := LoadTokenizer(context.Background(), src, "m", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !tok.Lowercase() {
		t.Error("Lowercase() = false, want true")
	}
	got, err := tok.Encode("Hello World", 16)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 5, 6, 3}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestLoadTokenizerCased(t *testing.T) {
	src := memSource{
		"vocab.txt":             vocab,
		"tokenizer_config.json": `{"do_lower_case": false}`,
	}
	tok, err := LoadTokenizer(context.Background(), src, "m", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Lowercase() {
		t.Fatal("Lowercase() = true, want false")
	}

	on := true
	tok, err = LoadTokenizer(context.Background(), src, "m", &Config{Lowercase: &on})
	if err != nil {
		t.Fatal(err)
	}
	if !tok.Lowercase() {
		t.Error("do_lower_case=true should force lowercasing")
	}
}

func TestLoadTokenizerMissing(t *testing.T) {
	_, err := LoadTokenizer(context.Background(), memSource{}, "m", nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestReadGraphFallback(t *testing.T) {
	src := memSource{"model.onnx": "graph"}
	data, file, err := readGraph(context.Background(), src, "m")
	if err != nil {
		t.Fatal(err)
	}
	if file != "model.onnx" || string(data) != "graph" {
		t.Errorf("got %s %q", file, data)
	}

	src["onnx/model.onnx"] = "preferred"
	_, file, err = readGraph(context.Background(), src, "m")
	if err != nil {
		t.Fatal(err)
	}
	if file != "onnx/model.onnx" {
		t.Errorf("file = %s, want onnx/model.onnx", file)
	}

	if _, _, err := readGraph(context.Background(), memSource{}, "m"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}
