// Package embed provides a text embedding interface and the Hugging Face
// sentence-embedding adapter built on top of it.
//
// An Embedder converts text into dense vector representations (embeddings)
// suitable for semantic search, clustering, and classification tasks.
//
// # Hugging Face adapter
//
// [HuggingFace] resolves a compute device once, loads a pretrained model by
// its Hub identifier through a [Loader], and forwards every batch to the
// loaded [Model]:
//
//	e, err := embed.NewHuggingFace(ctx, "sentence-transformers/all-MiniLM-L6-v2",
//	    embed.WithDevice(0),
//	)
//	vecs, err := e.EmbedBatch(ctx, []string{"hello", "world"})
//
// Loaders are pluggable backends. The onnx backend (package sbert) runs the
// model in-process; the tei backend calls a text-embeddings-inference server.
// Backends register themselves with [RegisterLoader] from init, so importing
// one for side effects is enough:
//
//	import _ "github.com/haivivi/hfembed/pkg/sbert"
package embed

import (
	"context"
	"errors"
)

// Embedder converts text into dense float32 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embedding vectors for multiple texts, one row per
	// input in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// Common errors.
var (
	// ErrEmptyInput is returned when the input text is empty.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrEmptyModelID is returned when no model identifier is given.
	ErrEmptyModelID = errors.New("embed: empty model id")
)

// GenerationError reports a failed embedding call. Err holds the underlying
// cause and is reachable through errors.Is and errors.As.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	msg := "embed: embedding generation failed"
	if e.Model != "" {
		msg += " (" + e.Model + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }
