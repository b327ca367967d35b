package sbert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/haivivi/hfembed/pkg/hub"
	"github.com/haivivi/hfembed/pkg/tokenizer"
)

// PoolingMode selects how token vectors are reduced to one sentence vector.
type PoolingMode string

const (
	PoolMean        PoolingMode = "mean"
	PoolCLS         PoolingMode = "cls"
	PoolMax         PoolingMode = "max"
	PoolMeanSqrtLen PoolingMode = "mean_sqrt_len"
)

// Config is the sentence-transformers pipeline description of a model.
type Config struct {
	// MaxSeqLength is the truncation length in tokens, special tokens
	// included.
	MaxSeqLength int

	// Lowercase forces lowercasing before tokenization. Nil keeps the
	// tokenizer's own setting.
	Lowercase *bool

	Pooling   PoolingMode
	Normalize bool

	// HiddenSize is the transformer width from config.json, zero if
	// unknown.
	HiddenSize int
}

// Model files, relative to the repository root.
const (
	fileModules         = "modules.json"
	fileSentenceConfig  = "sentence_bert_config.json"
	fileModelConfig     = "config.json"
	fileTokenizerJSON   = "tokenizer.json"
	fileTokenizerConfig = "tokenizer_config.json"
	fileVocab           = "vocab.txt"
	fileONNX            = "onnx/model.onnx"
	fileONNXRoot        = "model.onnx"
	defaultPoolingDir   = "1_Pooling"
)

// fileSource reads model repository files. *hub.Hub implements it.
type fileSource interface {
	ReadFile(ctx context.Context, modelID, file string) ([]byte, error)
}

type moduleJSON struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// configFile returns the config.json of a module directory, which must stay
// inside the repository.
func (m moduleJSON) configFile(modelID string) (string, error) {
	dir := m.Path
	if dir == "" {
		dir = defaultPoolingDir
	}
	file := path.Join(dir, fileModelConfig)
	if err := hub.ValidateFile(file); err != nil {
		return "", fmt.Errorf("sbert: %s: %s module path: %w", modelID, m.Type, err)
	}
	return file, nil
}

type sentenceConfigJSON struct {
	MaxSeqLength int   `json:"max_seq_length"`
	DoLowerCase  *bool `json:"do_lower_case"`
}

type poolingJSON struct {
	CLS         bool `json:"pooling_mode_cls_token"`
	Mean        bool `json:"pooling_mode_mean_tokens"`
	Max         bool `json:"pooling_mode_max_tokens"`
	MeanSqrtLen bool `json:"pooling_mode_mean_sqrt_len_tokens"`
}

type modelConfigJSON struct {
	HiddenSize            int `json:"hidden_size"`
	MaxPositionEmbeddings int `json:"max_position_embeddings"`
}

// LoadConfig reads the optional sentence-transformers files of a model.
// A repository without modules.json is treated as a plain transformer with
// mean pooling and no normalization.
func LoadConfig(ctx context.Context, src fileSource, modelID string) (*Config, error) {
	cfg := &Config{
		MaxSeqLength: tokenizer.DefaultMaxLength,
		Pooling:      PoolMean,
	}

	poolingConfig := ""
	var modules []moduleJSON
	ok, err := readJSON(ctx, src, modelID, fileModules, &modules)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, m := range modules {
			switch {
			case strings.HasSuffix(m.Type, ".Pooling"):
				if poolingConfig, err = m.configFile(modelID); err != nil {
					return nil, err
				}
			case strings.HasSuffix(m.Type, ".Normalize"):
				cfg.Normalize = true
			}
		}
	}

	if poolingConfig != "" {
		var p poolingJSON
		ok, err := readJSON(ctx, src, modelID, poolingConfig, &p)
		if err != nil {
			return nil, err
		}
		if ok {
			mode, err := p.mode()
			if err != nil {
				return nil, fmt.Errorf("sbert: %s: %w", modelID, err)
			}
			cfg.Pooling = mode
		}
	}

	var sc sentenceConfigJSON
	if _, err := readJSON(ctx, src, modelID, fileSentenceConfig, &sc); err != nil {
		return nil, err
	}
	if sc.MaxSeqLength > 0 {
		cfg.MaxSeqLength = sc.MaxSeqLength
	}
	cfg.Lowercase = sc.DoLowerCase

	var mc modelConfigJSON
	if _, err := readJSON(ctx, src, modelID, fileModelConfig, &mc); err != nil {
		return nil, err
	}
	cfg.HiddenSize = mc.HiddenSize
	if mc.MaxPositionEmbeddings > 0 && cfg.MaxSeqLength > mc.MaxPositionEmbeddings {
		cfg.MaxSeqLength = mc.MaxPositionEmbeddings
	}
	return cfg, nil
}

func (p poolingJSON) mode() (PoolingMode, error) {
	var modes []PoolingMode
	if p.CLS {
		modes = append(modes, PoolCLS)
	}
	if p.Mean {
		modes = append(modes, PoolMean)
	}
	if p.Max {
		modes = append(modes, PoolMax)
	}
	if p.MeanSqrtLen {
		modes = append(modes, PoolMeanSqrtLen)
	}
	switch len(modes) {
	case 0:
		return PoolMean, nil
	case 1:
		return modes[0], nil
	default:
		return "", fmt.Errorf("concatenated pooling modes %v are not supported", modes)
	}
}

// LoadTokenizer reads tokenizer.json, falling back to vocab.txt with the
// casing from tokenizer_config.json.
func LoadTokenizer(ctx context.Context, src fileSource, modelID string, cfg *Config) (*tokenizer.Tokenizer, error) {
	tok, err := loadTokenizer(ctx, src, modelID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.Lowercase != nil && *cfg.Lowercase {
		tok = tok.SetLowercase(true)
	}
	return tok, nil
}

func loadTokenizer(ctx context.Context, src fileSource, modelID string) (*tokenizer.Tokenizer, error) {
	data, err := src.ReadFile(ctx, modelID, fileTokenizerJSON)
	switch {
	case err == nil:
		tok, err := tokenizer.LoadJSON(data)
		if err != nil {
			return nil, fmt.Errorf("sbert: %s: %w", modelID, err)
		}
		return tok, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	tc := struct {
		DoLowerCase *bool `json:"do_lower_case"`
	}{}
	if _, err := readJSON(ctx, src, modelID, fileTokenizerConfig, &tc); err != nil {
		return nil, err
	}
	lowercase := tc.DoLowerCase == nil || *tc.DoLowerCase

	vocab, err := src.ReadFile(ctx, modelID, fileVocab)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("sbert: %s: no %s or %s: %w", modelID, fileTokenizerJSON, fileVocab, err)
		}
		return nil, err
	}
	tok, err := tokenizer.LoadVocab(bytes.NewReader(vocab), lowercase)
	if err != nil {
		return nil, fmt.Errorf("sbert: %s: %w", modelID, err)
	}
	return tok, nil
}

// readJSON decodes an optional file. It reports false when the file does
// not exist.
func readJSON(ctx context.Context, src fileSource, modelID, file string, v any) (bool, error) {
	data, err := src.ReadFile(ctx, modelID, file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("sbert: %s: parse %s: %w", modelID, file, err)
	}
	return true, nil
}
