package tokenizer

import (
	"encoding/json"
	"fmt"
	"sync"

	hft "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// normalizerJSON is the normalizer section of a tokenizer.json, read to
// report the casing of the loaded pipeline.
type normalizerJSON struct {
	Type        string            `json:"type"`
	Lowercase   *bool             `json:"lowercase"`
	Normalizers []*normalizerJSON `json:"normalizers"`
}

// LoadJSON builds a tokenizer from the contents of a Hugging Face
// tokenizer.json.
func LoadJSON(data []byte) (*Tokenizer, error) {
	var head struct {
		Normalizer *normalizerJSON `json:"normalizer"`
		Padding    *struct {
			PadToken string `json:"pad_token"`
		} `json:"padding"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("tokenizer: parse tokenizer.json: %w", err)
	}

	var tk *hft.Tokenizer
	err := withTempFile("hfembed-tokenizer-*.json", data, func(path string) error {
		var err error
		tk, err = pretrained.FromFile(path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load tokenizer.json: %w", err)
	}

	padID, sepID := int64(0), int64(-1)
	for _, name := range []string{"[SEP]", "</s>"} {
		if id, ok := tk.TokenToId(name); ok {
			sepID = int64(id)
			break
		}
	}
	pads := []string{"[PAD]", "<pad>"}
	if head.Padding != nil && head.Padding.PadToken != "" {
		pads = append([]string{head.Padding.PadToken}, pads...)
	}
	for _, name := range pads {
		if id, ok := tk.TokenToId(name); ok {
			padID = int64(id)
			break
		}
	}

	return &Tokenizer{
		mu:           new(sync.Mutex),
		tk:           tk,
		padID:        padID,
		sepID:        sepID,
		builtinLower: lowercases(head.Normalizer),
	}, nil
}

func lowercases(n *normalizerJSON) bool {
	if n == nil {
		return false
	}
	switch n.Type {
	case "BertNormalizer":
		return n.Lowercase == nil || *n.Lowercase
	case "Lowercase":
		return true
	case "Sequence":
		for _, sub := range n.Normalizers {
			if lowercases(sub) {
				return true
			}
		}
	}
	return false
}
