// Package hub resolves pretrained model artifacts from the Hugging Face Hub.
//
// Files are looked up in this order:
//
//  1. a local directory, when the model id names one;
//  2. the cache [storage.FileStore];
//  3. an optional mirror FileStore (typically an S3 bucket);
//  4. the Hub HTTP endpoint, {endpoint}/{id}/resolve/{revision}/{file}.
//
// Anything fetched from the mirror or the endpoint is written to the cache
// before it is returned, so only the first load of a model touches the
// network.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haivivi/hfembed/pkg/storage"
)

// DefaultEndpoint is the public Hugging Face Hub.
const DefaultEndpoint = "https://huggingface.co"

// DefaultRevision is the branch resolved when no revision is configured.
const DefaultRevision = "main"

// Errors.
var (
	// ErrInvalidModelID is returned for ids that are not valid Hub repo ids.
	ErrInvalidModelID = errors.New("hub: invalid model id")

	// ErrInvalidFile is returned for file names that are absolute or climb
	// out of the model repository.
	ErrInvalidFile = errors.New("hub: invalid file name")

	// ErrUnauthorized is returned when the Hub rejects the request, which
	// also happens for private or gated repositories without a token.
	ErrUnauthorized = errors.New("hub: unauthorized")
)

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*(/[A-Za-z0-9][A-Za-z0-9_.-]*)?$`)

// ValidateModelID checks that id is a well-formed Hub repo id such as
// "sentence-transformers/all-MiniLM-L6-v2".
func ValidateModelID(id string) error {
	if len(id) > 96 || !repoIDPattern.MatchString(id) ||
		strings.Contains(id, "--") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	return nil
}

// ValidateFile checks that file is a relative, slash-separated path that
// stays inside the model repository.
func ValidateFile(file string) error {
	if !filepath.IsLocal(filepath.FromSlash(file)) || strings.Contains(file, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidFile, file)
	}
	return nil
}

// CachePath returns the cache location of file for a model revision.
func CachePath(modelID, revision, file string) string {
	repo := "models--" + strings.ReplaceAll(modelID, "/", "--")
	return repo + "/" + url.PathEscape(revision) + "/" + file
}

// IsLocal reports whether modelID names an existing local directory.
func IsLocal(modelID string) bool {
	info, err := os.Stat(modelID)
	return err == nil && info.IsDir()
}

// Hub fetches and caches model files.
type Hub struct {
	endpoint string
	revision string
	token    string
	client   *http.Client
	cache    storage.FileStore
	mirror   storage.FileStore
	logger   *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithEndpoint overrides the Hub base URL (e.g. an HF_ENDPOINT mirror).
func WithEndpoint(endpoint string) Option {
	return func(h *Hub) { h.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithRevision selects a branch, tag or commit.
func WithRevision(rev string) Option {
	return func(h *Hub) { h.revision = rev }
}

// WithToken sets the access token sent as a bearer token.
func WithToken(token string) Option {
	return func(h *Hub) { h.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Hub) { h.client = client }
}

// WithMirror adds a FileStore consulted before the HTTP endpoint. The
// mirror uses the same layout as the cache.
func WithMirror(m storage.FileStore) Option {
	return func(h *Hub) { h.mirror = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a Hub that caches downloads in cache.
func New(cache storage.FileStore, opts ...Option) *Hub {
	h := &Hub{
		endpoint: DefaultEndpoint,
		revision: DefaultRevision,
		client:   http.DefaultClient,
		cache:    cache,
	}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.endpoint == "" {
		h.endpoint = DefaultEndpoint
	}
	if h.revision == "" {
		h.revision = DefaultRevision
	}
	return h
}

// Revision returns the configured revision.
func (h *Hub) Revision() string { return h.revision }

// Open returns a reader for one model file. Missing files produce an error
// wrapping os.ErrNotExist.
func (h *Hub) Open(ctx context.Context, modelID, file string) (io.ReadCloser, error) {
	if err := ValidateFile(file); err != nil {
		return nil, err
	}
	if IsLocal(modelID) {
		return os.Open(filepath.Join(modelID, filepath.FromSlash(file)))
	}
	if err := ValidateModelID(modelID); err != nil {
		return nil, err
	}

	path := CachePath(modelID, h.revision, file)
	r, err := h.cache.Read(ctx, path)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("hub: read cache %s: %w", path, err)
	}

	if err := h.download(ctx, modelID, file, path); err != nil {
		return nil, err
	}
	return h.cache.Read(ctx, path)
}

// ReadFile returns the whole content of one model file.
func (h *Hub) ReadFile(ctx context.Context, modelID, file string) ([]byte, error) {
	r, err := h.Open(ctx, modelID, file)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Publish copies a cached model file to dst using the cache layout, e.g.
// to seed a shared S3 mirror.
func (h *Hub) Publish(ctx context.Context, modelID, file string, dst storage.FileStore) error {
	if err := ValidateFile(file); err != nil {
		return err
	}
	r, err := h.Open(ctx, modelID, file)
	if err != nil {
		return err
	}
	defer r.Close()
	return copyTo(ctx, dst, CachePath(modelID, h.revision, file), r)
}

func (h *Hub) download(ctx context.Context, modelID, file, path string) error {
	if h.mirror != nil {
		r, err := h.mirror.Read(ctx, path)
		switch {
		case err == nil:
			h.logger.Info("fetching model file", "model", modelID, "file", file, "source", "mirror")
			defer r.Close()
			if err := copyTo(ctx, h.cache, path, r); err != nil {
				return fmt.Errorf("hub: %s/%s from mirror: %w", modelID, file, err)
			}
			return nil
		case errors.Is(err, os.ErrNotExist):
		default:
			h.logger.Warn("model mirror unavailable", "model", modelID, "file", file, "error", err)
		}
	}

	u := h.endpoint + "/" + modelID + "/resolve/" + url.PathEscape(h.revision) + "/" + file
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("hub: %s/%s: %w", modelID, file, err)
	}
	req.Header.Set("User-Agent", "hfembed")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	h.logger.Info("fetching model file", "model", modelID, "file", file, "source", h.endpoint)
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("hub: %s/%s: %w", modelID, file, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("hub: %s/%s: %w", modelID, file, os.ErrNotExist)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s/%s (status %d)", ErrUnauthorized, modelID, file, resp.StatusCode)
	default:
		return fmt.Errorf("hub: %s/%s: unexpected status %d", modelID, file, resp.StatusCode)
	}

	if err := copyTo(ctx, h.cache, path, resp.Body); err != nil {
		return fmt.Errorf("hub: %s/%s: %w", modelID, file, err)
	}
	return nil
}

// copyTo writes r to path in dst, discarding the partial file on error.
func copyTo(ctx context.Context, dst storage.FileStore, path string, r io.Reader) error {
	w, err := dst.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}
