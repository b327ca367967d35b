package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/hfembed/pkg/device"
	"github.com/haivivi/hfembed/pkg/storage"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".hfembed"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config represents the main configuration structure for a CLI app
type Config struct {
	// AppName is the application name
	AppName string `yaml:"-"`

	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty" json:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty" json:"contexts,omitempty"`

	// configPath is the path to the config file
	configPath string
}

// Context is one named set of model defaults and endpoints.
type Context struct {
	// Name is the context name
	Name string `yaml:"name" json:"name"`

	// Model is the default model id or local directory.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Device is the device preference: "cpu", "cuda", "cuda:N" or N.
	Device string `yaml:"device,omitempty" json:"device,omitempty"`

	// Backend names a registered embed backend ("onnx" or "tei").
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Hub configures model downloads.
	Hub *HubConfig `yaml:"hub,omitempty" json:"hub,omitempty"`

	// Mirror is an S3 bucket consulted before the Hub.
	Mirror *storage.S3Config `yaml:"mirror,omitempty" json:"mirror,omitempty"`

	// TEI configures the remote backend.
	TEI *TEIConfig `yaml:"tei,omitempty" json:"tei,omitempty"`
}

// HubConfig configures access to the Hugging Face Hub.
type HubConfig struct {
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Token    string `yaml:"token,omitempty" json:"token,omitempty"`
	Revision string `yaml:"revision,omitempty" json:"revision,omitempty"`
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

// TEIConfig configures a text-embeddings-inference server.
type TEIConfig struct {
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// LoadConfig loads or creates configuration for the specified app
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from a custom path
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	var configPath string

	if customPath != "" {
		configPath = customPath
	} else {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	// Ensure config directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create empty config file
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}

	cfg.AppName = appName
	cfg.configPath = configPath

	return cfg, nil
}

// Save saves the configuration to disk. The file may hold tokens, so it is
// written owner-only.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds a new context
func (c *Config) AddContext(name string, ctx *Context) error {
	if name == "" {
		return fmt.Errorf("context name is required")
	}
	if ctx.Device != "" {
		if _, err := device.Parse(ctx.Device); err != nil {
			return err
		}
	}
	ctx.Name = name
	c.Contexts[name] = ctx
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the current context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the context by name, or the current context if name
// is empty. With neither, it returns an empty context so that commands run
// on flags and environment alone.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		if c.CurrentContext == "" {
			return &Context{}, nil
		}
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names, sorted
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SettableKeys lists the keys accepted by [Context.Set].
var SettableKeys = []string{
	"model", "device", "backend",
	"hub.endpoint", "hub.token", "hub.revision", "hub.cache_dir",
	"mirror.bucket", "mirror.prefix", "mirror.region", "mirror.endpoint", "mirror.path_style",
	"tei.base_url", "tei.api_key",
}

// Set assigns one dotted key, e.g. "hub.token" or "mirror.bucket".
func (ctx *Context) Set(key, value string) error {
	hub := func() *HubConfig {
		if ctx.Hub == nil {
			ctx.Hub = &HubConfig{}
		}
		return ctx.Hub
	}
	mirror := func() *storage.S3Config {
		if ctx.Mirror == nil {
			ctx.Mirror = &storage.S3Config{}
		}
		return ctx.Mirror
	}
	tei := func() *TEIConfig {
		if ctx.TEI == nil {
			ctx.TEI = &TEIConfig{}
		}
		return ctx.TEI
	}

	switch key {
	case "model":
		ctx.Model = value
	case "device":
		if _, err := device.Parse(value); err != nil {
			return err
		}
		ctx.Device = value
	case "backend":
		ctx.Backend = value
	case "hub.endpoint":
		hub().Endpoint = value
	case "hub.token":
		hub().Token = value
	case "hub.revision":
		hub().Revision = value
	case "hub.cache_dir":
		hub().CacheDir = value
	case "mirror.bucket":
		mirror().Bucket = value
	case "mirror.prefix":
		mirror().Prefix = value
	case "mirror.region":
		mirror().Region = value
	case "mirror.endpoint":
		mirror().Endpoint = value
	case "mirror.path_style":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("mirror.path_style: %w", err)
		}
		mirror().PathStyle = on
	case "tei.base_url":
		tei().BaseURL = value
	case "tei.api_key":
		tei().APIKey = value
	default:
		return fmt.Errorf("unknown key %q (valid: %s)", key, strings.Join(SettableKeys, ", "))
	}
	return nil
}

// DevicePreference returns the parsed device preference, or
// [device.CPUPreference] when unset.
func (ctx *Context) DevicePreference() (int, error) {
	if ctx.Device == "" {
		return device.CPUPreference, nil
	}
	return device.Parse(ctx.Device)
}

// Masked returns a copy safe for display, with secrets masked.
func (ctx *Context) Masked() *Context {
	out := *ctx
	if ctx.Hub != nil {
		h := *ctx.Hub
		h.Token = MaskAPIKey(h.Token)
		out.Hub = &h
	}
	if ctx.Mirror != nil {
		m := *ctx.Mirror
		m.AccessKey = MaskAPIKey(m.AccessKey)
		m.SecretKey = MaskAPIKey(m.SecretKey)
		m.SessionToken = MaskAPIKey(m.SessionToken)
		out.Mirror = &m
	}
	if ctx.TEI != nil {
		t := *ctx.TEI
		t.APIKey = MaskAPIKey(t.APIKey)
		out.TEI = &t
	}
	return &out
}

// MaskAPIKey masks the API key for display
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
