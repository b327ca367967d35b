package embed

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/haivivi/hfembed/pkg/device"
)

// Model is a loaded embedding model. Implementations own their weights and
// tokenizer state; Encode must not mutate them so that concurrent calls are
// safe.
type Model interface {
	// Encode returns one vector per input text, in input order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output dimensionality.
	Dimension() int

	// Close releases the model.
	Close() error
}

// Loader loads a pretrained model by identifier onto a resolved device.
// Loading may block for a long time while weights are downloaded.
type Loader interface {
	Load(ctx context.Context, modelID string, dev device.Device) (Model, error)
}

// GPUProber is implemented by loaders that can tell whether their runtime
// has GPU support.
type GPUProber interface {
	GPUAvailable() bool
}

var (
	loadersMu sync.RWMutex
	loaders   = make(map[string]Loader)
)

// RegisterLoader makes a loader available under name.
// It panics if name is empty, l is nil, or name is already registered.
func RegisterLoader(name string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	if name == "" || l == nil {
		panic("embed: RegisterLoader with empty name or nil loader")
	}
	if _, dup := loaders[name]; dup {
		panic("embed: RegisterLoader called twice for " + name)
	}
	loaders[name] = l
}

// LookupLoader returns the loader registered under name.
func LookupLoader(name string) (Loader, error) {
	loadersMu.RLock()
	l, ok := loaders[name]
	loadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("embed: no loader registered for backend %q", name)
	}
	return l, nil
}

// Loaders returns the sorted names of all registered loaders.
func Loaders() []string {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	names := make([]string, 0, len(loaders))
	for name := range loaders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
