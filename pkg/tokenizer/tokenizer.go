// Package tokenizer turns text into the int64 matrices a sentence-embedding
// encoder takes as input.
//
// A [Tokenizer] is loaded from a Hugging Face tokenizer.json ([LoadJSON]) or
// a plain BERT vocab.txt ([LoadVocab]). Tokenization itself is done by
// github.com/sugarme/tokenizer; this package adds sentence-transformers
// casing, truncation that keeps the trailing special tokens, and batch
// padding ([Tokenizer.EncodeBatch]).
package tokenizer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode"

	hft "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
)

// DefaultMaxLength is the truncation length used when none is given.
const DefaultMaxLength = 512

// MinMaxLength is the smallest usable truncation length: room for the
// classifier and separator tokens.
const MinMaxLength = 2

// Tokenizer wraps a Hugging Face tokenizer pipeline. Encode calls are
// serialized; a Tokenizer may be shared between goroutines.
type Tokenizer struct {
	mu *sync.Mutex
	tk *hft.Tokenizer

	padID int64
	sepID int64 // -1 when the vocabulary has no separator

	// builtinLower is the casing of the loaded normalizer; forceLower
	// lowercases input before it reaches the pipeline.
	builtinLower bool
	forceLower   bool
}

// Batch is a tokenized, padded batch. Every row has SeqLen columns.
type Batch struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
	TokenTypeIDs  [][]int64
	SeqLen        int
}

// Flatten returns the row-major contents of each matrix.
func (b *Batch) Flatten() (ids, mask, types []int64) {
	n := len(b.InputIDs) * b.SeqLen
	ids = make([]int64, 0, n)
	mask = make([]int64, 0, n)
	types = make([]int64, 0, n)
	for i := range b.InputIDs {
		ids = append(ids, b.InputIDs[i]...)
		mask = append(mask, b.AttentionMask[i]...)
		types = append(types, b.TokenTypeIDs[i]...)
	}
	return ids, mask, types
}

// LoadVocab reads a BERT vocab.txt (one token per line, id = line number)
// and builds the BERT pipeline around it. lowercase also enables accent
// stripping.
func LoadVocab(r io.Reader, lowercase bool) (*Tokenizer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: read vocab: %w", err)
	}

	var tk *hft.Tokenizer
	err = withTempFile("hfembed-vocab-*.txt", data, func(path string) error {
		model, err := wordpiece.NewWordPieceFromFile(path, "[UNK]")
		if err != nil {
			return err
		}
		tk = hft.NewTokenizer(model)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load vocab: %w", err)
	}

	tk.WithNormalizer(normalizer.NewBertNormalizer(true, lowercase, true, lowercase))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	ids := make(map[string]int, 4)
	for _, name := range []string{"[UNK]", "[CLS]", "[SEP]", "[PAD]"} {
		id, ok := tk.TokenToId(name)
		if !ok {
			return nil, fmt.Errorf("tokenizer: special token %q not in vocabulary", name)
		}
		ids[name] = id
	}
	sep := processor.PostToken{Id: ids["[SEP]"], Value: "[SEP]"}
	cls := processor.PostToken{Id: ids["[CLS]"], Value: "[CLS]"}
	tk.WithPostProcessor(processor.NewBertProcessing(sep, cls))

	return &Tokenizer{
		mu:           new(sync.Mutex),
		tk:           tk,
		padID:        int64(ids["[PAD]"]),
		sepID:        int64(ids["[SEP]"]),
		builtinLower: lowercase,
	}, nil
}

// VocabSize returns the number of vocabulary entries.
func (t *Tokenizer) VocabSize() int { return t.tk.GetVocabSize(false) }

// Lowercase reports whether input is lowercased before lookup.
func (t *Tokenizer) Lowercase() bool { return t.builtinLower || t.forceLower }

// SetLowercase returns a copy of t that lowercases input when on, as
// sentence_bert_config.json's do_lower_case does. Turning it off only
// removes the extra lowercasing, not that of the loaded normalizer.
func (t *Tokenizer) SetLowercase(on bool) *Tokenizer {
	c := *t
	c.forceLower = on
	return &c
}

// Tokenize splits text into tokens, without special tokens.
func (t *Tokenizer) Tokenize(text string) ([]string, error) {
	en, err := t.encoding(text)
	if err != nil {
		return nil, err
	}
	var out []string
	for i, tok := range en.Tokens {
		if i < len(en.SpecialTokenMask) && en.SpecialTokenMask[i] == 1 {
			continue
		}
		if i < len(en.AttentionMask) && en.AttentionMask[i] == 0 {
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}

// Encode returns the ids of text with the model's special tokens, truncated
// to maxLen ids. maxLen <= 0 selects [DefaultMaxLength]; smaller positive
// values are raised to [MinMaxLength].
func (t *Tokenizer) Encode(text string, maxLen int) ([]int64, error) {
	ids, _, err := t.encode(text, maxLen)
	return ids, err
}

// EncodeBatch encodes texts and right-pads every row to the longest one.
func (t *Tokenizer) EncodeBatch(texts []string, maxLen int) (*Batch, error) {
	rows := make([][]int64, len(texts))
	types := make([][]int64, len(texts))
	seqLen := 0
	for i, text := range texts {
		var err error
		rows[i], types[i], err = t.encode(text, maxLen)
		if err != nil {
			return nil, err
		}
		seqLen = max(seqLen, len(rows[i]))
	}

	b := &Batch{
		InputIDs:      make([][]int64, len(texts)),
		AttentionMask: make([][]int64, len(texts)),
		TokenTypeIDs:  make([][]int64, len(texts)),
		SeqLen:        seqLen,
	}
	for i, ids := range rows {
		padded := make([]int64, seqLen)
		mask := make([]int64, seqLen)
		typ := make([]int64, seqLen)
		copy(padded, ids)
		copy(typ, types[i])
		for j := range seqLen {
			if j < len(ids) {
				mask[j] = 1
			} else {
				padded[j] = t.padID
			}
		}
		b.InputIDs[i] = padded
		b.AttentionMask[i] = mask
		b.TokenTypeIDs[i] = typ
	}
	return b, nil
}

func (t *Tokenizer) encoding(text string) (*hft.Encoding, error) {
	if t.forceLower {
		text = strings.ToLower(text)
	}
	text = clean(text)

	t.mu.Lock()
	en, err := t.tk.EncodeSingle(text, true)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("tokenizer: encode: %w", err)
	}
	return en, nil
}

// encode returns ids and type ids without any padding the loaded config
// applies, truncated to maxLen while keeping trailing special tokens.
func (t *Tokenizer) encode(text string, maxLen int) (ids, types []int64, err error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	maxLen = max(maxLen, MinMaxLength)

	en, err := t.encoding(text)
	if err != nil {
		return nil, nil, err
	}

	var special []bool
	for i, id := range en.Ids {
		if i < len(en.AttentionMask) && en.AttentionMask[i] == 0 {
			continue
		}
		ids = append(ids, int64(id))
		var typ int64
		if i < len(en.TypeIds) {
			typ = int64(en.TypeIds[i])
		}
		types = append(types, typ)
		special = append(special, int64(id) == t.sepID ||
			(i < len(en.SpecialTokenMask) && en.SpecialTokenMask[i] == 1))
	}
	if len(ids) <= maxLen {
		return ids, types, nil
	}

	tail := 0
	for i := len(special) - 1; i >= 0 && special[i] && tail < maxLen-1; i-- {
		tail++
	}
	head := maxLen - tail
	ids = append(ids[:head:head], ids[len(ids)-tail:]...)
	types = append(types[:head:head], types[len(types)-tail:]...)
	return ids, types, nil
}

// clean maps the line and paragraph separators to spaces and drops
// private-use and unassigned code points, as the Hugging Face
// BertNormalizer does with whitespace and "other" characters.
func clean(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\u0085' || r == '\u2028' || r == '\u2029':
			return ' '
		case unicode.Is(unicode.Co, r):
			return -1
		case !unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z, unicode.C):
			return -1
		}
		return r
	}, text)
}

// withTempFile writes data to a temporary file for loaders that only read
// from paths, and removes it afterwards.
func withTempFile(pattern string, data []byte, fn func(path string) error) error {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fn(f.Name())
}
