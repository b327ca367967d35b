package tei_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/haivivi/hfembed/pkg/device"
	"github.com/haivivi/hfembed/pkg/embed"
	"github.com/haivivi/hfembed/pkg/tei"
)

// fakeEmbeddingResponse builds a minimal OpenAI-compatible embedding
// response. When reverse is set the items are listed in reverse order, as
// some servers do.
func fakeEmbeddingResponse(dim int, texts []string, reverse bool) []byte {
	type embItem struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	}
	type resp struct {
		Object string    `json:"object"`
		Model  string    `json:"model"`
		Data   []embItem `json:"data"`
	}

	data := make([]embItem, len(texts))
	for i, s := range texts {
		vec := make([]float64, dim)
		for j := range vec {
			vec[j] = float64(len(s)) + 0.01*float64(j)
		}
		data[i] = embItem{Object: "embedding", Index: i, Embedding: vec}
	}
	if reverse {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
	b, _ := json.Marshal(resp{Object: "list", Model: "test-model", Data: data})
	return b
}

type fakeServer struct {
	*httptest.Server
	requests atomic.Int32
	model    atomic.Value
}

func newFakeServer(t *testing.T, dim int, reverse bool) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.requests.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.model.Store(req.Model)
		if req.Model == "missing/model" {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeEmbeddingResponse(dim, req.Input, reverse))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func TestLoaderProbesDimension(t *testing.T) {
	srv := newFakeServer(t, 12, false)
	l := tei.NewLoader(srv.URL)

	m, err := l.Load(context.Background(), "BAAI/bge-small-en-v1.5", device.GPU(0))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Dimension() != 12 {
		t.Fatalf("Dimension() = %d, want 12", m.Dimension())
	}
	if got := srv.model.Load(); got != "BAAI/bge-small-en-v1.5" {
		t.Fatalf("server saw model %v", got)
	}
}

func TestLoaderMissingModel(t *testing.T) {
	srv := newFakeServer(t, 4, false)
	l := tei.NewLoader(srv.URL)

	_, err := l.Load(context.Background(), "missing/model", device.CPU)
	if err == nil {
		t.Fatal("expected error")
	}
	if srv.requests.Load() != 1 {
		t.Fatalf("requests = %d, want 1 (no retries)", srv.requests.Load())
	}
}

func TestEncodeReordersByIndex(t *testing.T) {
	srv := newFakeServer(t, 3, true)
	l := tei.NewLoader(srv.URL)
	m, err := l.Load(context.Background(), "m", device.CPU)
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{"a", "bbb", "cc"}
	vecs, err := m.Encode(context.Background(), texts)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(len(texts[i])) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], len(texts[i]))
		}
	}
}

func TestEncodeSplitsBatches(t *testing.T) {
	srv := newFakeServer(t, 2, false)
	l := tei.NewLoader(srv.URL, tei.WithMaxBatch(4))
	m, err := l.Load(context.Background(), "m", device.CPU)
	if err != nil {
		t.Fatal(err)
	}
	before := srv.requests.Load()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	vecs, err := m.Encode(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 10 {
		t.Fatalf("len(vecs) = %d, want 10", len(vecs))
	}
	if got := srv.requests.Load() - before; got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
}

func TestHuggingFaceOverTEI(t *testing.T) {
	srv := newFakeServer(t, 8, false)

	e, err := embed.NewHuggingFace(context.Background(), "sentence-transformers/all-MiniLM-L6-v2",
		embed.WithLoader(tei.NewLoader(srv.URL)),
	)
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || len(vecs[2]) != 8 {
		t.Fatalf("got %d rows", len(vecs))
	}

	srv.Close()
	_, err = e.EmbedBatch(context.Background(), []string{"a"})
	var genErr *embed.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *GenerationError", err)
	}
}
