package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haivivi/hfembed/pkg/cli"
	"github.com/haivivi/hfembed/pkg/device"
	"github.com/haivivi/hfembed/pkg/embed"
	"github.com/haivivi/hfembed/pkg/hub"
	"github.com/haivivi/hfembed/pkg/onnx"
	"github.com/haivivi/hfembed/pkg/sbert"
	"github.com/haivivi/hfembed/pkg/storage"
	"github.com/haivivi/hfembed/pkg/tei"
)

const backendTEI = "tei"

// modelFlags are the per-command overrides of context settings.
type modelFlags struct {
	model   string
	device  string
	backend string
	teiURL  string
}

func (f *modelFlags) resolveModel(c *cli.Context) (string, error) {
	model := f.model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		return "", fmt.Errorf("no model specified. Use --model or 'hfembed config set <context> model <id>'")
	}
	return model, nil
}

func (f *modelFlags) resolveDevice(c *cli.Context) (int, error) {
	if f.device != "" {
		return device.Parse(f.device)
	}
	return c.DevicePreference()
}

func (f *modelFlags) resolveBackend(c *cli.Context) string {
	switch {
	case f.backend != "":
		return f.backend
	case c.Backend != "":
		return c.Backend
	default:
		return embed.DefaultBackend
	}
}

// newMirror returns the context's S3 mirror, or nil when none is set.
func newMirror(c *cli.Context) (storage.FileStore, error) {
	if c.Mirror == nil || c.Mirror.Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewS3Client(*c.Mirror)
	if err != nil {
		return nil, err
	}
	return storage.NewS3(client, c.Mirror.Bucket, c.Mirror.Prefix), nil
}

// newHub builds a hub from the context, falling back to the HF_* variables
// and the shared cache directory. It also returns the cache.
func newHub(c *cli.Context) (*hub.Hub, *storage.Local, error) {
	var hc cli.HubConfig
	if c.Hub != nil {
		hc = *c.Hub
	}
	if hc.Endpoint == "" {
		hc.Endpoint = os.Getenv("HF_ENDPOINT")
	}
	if hc.Token == "" {
		hc.Token = os.Getenv("HF_TOKEN")
	}
	if hc.CacheDir == "" {
		dir, err := sbert.CacheDir()
		if err != nil {
			return nil, nil, err
		}
		hc.CacheDir = dir
	}

	cache, err := storage.NewLocal(hc.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	opts := []hub.Option{
		hub.WithEndpoint(hc.Endpoint),
		hub.WithToken(hc.Token),
		hub.WithRevision(hc.Revision),
		hub.WithLogger(slog.Default()),
	}
	mirror, err := newMirror(c)
	if err != nil {
		return nil, nil, err
	}
	if mirror != nil {
		opts = append(opts, hub.WithMirror(mirror))
	}
	return hub.New(cache, opts...), cache, nil
}

// newLoader returns the loader for backend. Unknown names are looked up in
// the embed registry.
func newLoader(c *cli.Context, backend, teiURL string) (embed.Loader, error) {
	switch backend {
	case embed.DefaultBackend:
		h, _, err := newHub(c)
		if err != nil {
			return nil, err
		}
		return sbert.NewLoader(sbert.WithHub(h), sbert.WithLogger(slog.Default())), nil
	case backendTEI:
		var tc cli.TEIConfig
		if c.TEI != nil {
			tc = *c.TEI
		}
		if teiURL != "" {
			tc.BaseURL = teiURL
		}
		return tei.NewLoader(tc.BaseURL, tei.WithAPIKey(tc.APIKey), tei.WithLogger(slog.Default())), nil
	default:
		return embed.LookupLoader(backend)
	}
}

// newEmbedder loads the model selected by flags and context.
func newEmbedder(ctx context.Context, c *cli.Context, f *modelFlags) (*embed.HuggingFace, error) {
	model, err := f.resolveModel(c)
	if err != nil {
		return nil, err
	}
	pref, err := f.resolveDevice(c)
	if err != nil {
		return nil, err
	}
	loader, err := newLoader(c, f.resolveBackend(c), f.teiURL)
	if err != nil {
		return nil, err
	}
	return embed.NewHuggingFace(ctx, model,
		embed.WithDevice(pref),
		embed.WithLoader(loader),
		embed.WithLogger(slog.Default()),
	)
}

// gpuProbe reports CUDA support of the linked ONNX Runtime.
func gpuProbe() bool {
	return onnx.CUDAAvailable()
}
